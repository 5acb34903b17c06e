package signing

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/corestario/kyber"
	"github.com/corestario/kyber/share"
	"github.com/corestario/kyber/sign/bls"

	"github.com/lidofinance/tssd/dkg"
)

var ErrStageConsumed = errors.New("offline stage is already consumed")

// CompletedOfflineStage binds a key share to the signer set agreed for one
// signing session. It can be consumed by a single online stage only.
type CompletedOfflineStage struct {
	share     *share.PriShare
	pubPoly   *share.PubPoly
	signers   []uint16
	threshold uint16
	parties   uint16

	mu       sync.Mutex
	consumed bool
}

// Signers returns the key indices of the parties taking part in the session.
func (c *CompletedOfflineStage) Signers() []uint16 {
	return append([]uint16(nil), c.signers...)
}

func (c *CompletedOfflineStage) PublicKey() kyber.Point {
	return c.pubPoly.Commit()
}

func (c *CompletedOfflineStage) consume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed {
		return ErrStageConsumed
	}
	c.consumed = true
	return nil
}

// PartialSignature is a threshold signature share. It embeds the signer's
// key index.
type PartialSignature []byte

// Signature is a complete signature together with the key it verifies against.
type Signature struct {
	Signature []byte
	PublicKey []byte
}

type signatureJSON struct {
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

func (s *Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(signatureJSON{
		Signature: hex.EncodeToString(s.Signature),
		PublicKey: hex.EncodeToString(s.PublicKey),
	})
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var raw signatureJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sig, err := hex.DecodeString(raw.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	pk, err := hex.DecodeString(raw.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to decode public key: %w", err)
	}
	s.Signature, s.PublicKey = sig, pk
	return nil
}

// Serialize returns the JSON form handed to settlement.
func (s *Signature) Serialize() (string, error) {
	bz, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signature: %w", err)
	}
	return string(bz), nil
}

func ParseSignature(data string) (*Signature, error) {
	var sig Signature
	if err := json.Unmarshal([]byte(data), &sig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signature: %w", err)
	}
	return &sig, nil
}

// Verify checks sig over msg against the embedded public key.
func (s *Signature) Verify(msg []byte) error {
	pk := dkg.Suite().Point()
	if err := pk.UnmarshalBinary(s.PublicKey); err != nil {
		return fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return bls.Verify(dkg.PairingSuite(), pk, msg, s.Signature)
}

type AggregationErrorKind int

const (
	// Incomplete means fewer partial signatures than signers arrived.
	Incomplete AggregationErrorKind = iota + 1
	InvalidCombination
)

func (k AggregationErrorKind) String() string {
	switch k {
	case Incomplete:
		return "incomplete partial signatures"
	case InvalidCombination:
		return "invalid partial signature combination"
	default:
		return "unknown aggregation error"
	}
}

type AggregationError struct {
	Kind     AggregationErrorKind
	Expected int
	Received int
	Err      error
}

func (e *AggregationError) Error() string {
	msg := fmt.Sprintf("%s: received %d of %d", e.Kind, e.Received, e.Expected)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}
