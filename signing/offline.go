package signing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/corestario/kyber"
	"github.com/corestario/kyber/share"

	"github.com/lidofinance/tssd/dkg"
	"github.com/lidofinance/tssd/protocol"
)

const roundAnnounce = 1

type announcePayload struct {
	KeyIndex    uint16 `json:"key_index"`
	PublicShare []byte `json:"public_share"`
	PublicKey   []byte `json:"public_key"`
}

// OfflineStage agrees on the signer set of one signing session before the
// message is known. Every signer announces its key index and public share;
// each announcement is checked against the shared public polynomial.
type OfflineStage struct {
	position uint16
	key      *dkg.LocalKeyShare
	signers  []uint16
	pubPoly  *share.PubPoly

	collector *protocol.Collector
	outgoing  []protocol.Message
	result    *CompletedOfflineStage
}

var _ protocol.StateMachine[*CompletedOfflineStage] = (*OfflineStage)(nil)

// NewOfflineStage seats the party at position (its relay index) in a
// session of the given signers, which are key indices.
func NewOfflineStage(position uint16, signers []uint16, key *dkg.LocalKeyShare) (*OfflineStage, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid key share: %w", err)
	}

	sorted, err := normalizeSigners(signers, key)
	if err != nil {
		return nil, err
	}
	if position < 1 || int(position) > len(sorted) {
		return nil, fmt.Errorf("position %d is outside of %d signers", position, len(sorted))
	}

	peers := make([]uint16, 0, len(sorted)-1)
	for p := uint16(1); int(p) <= len(sorted); p++ {
		if p != position {
			peers = append(peers, p)
		}
	}

	s := &OfflineStage{
		position:  position,
		key:       key,
		signers:   sorted,
		pubPoly:   key.PubPoly(),
		collector: protocol.NewCollector(peers),
	}
	if err := s.queueAnnounce(); err != nil {
		return nil, err
	}

	return s, nil
}

func normalizeSigners(signers []uint16, key *dkg.LocalKeyShare) ([]uint16, error) {
	if len(signers) < int(key.Threshold)+1 {
		return nil, fmt.Errorf("at least %d signers required, got %d", key.Threshold+1, len(signers))
	}

	sorted := append([]uint16(nil), signers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	own := false
	for i, s := range sorted {
		if s < 1 || s > key.Parties {
			return nil, fmt.Errorf("signer %d is outside of %d parties", s, key.Parties)
		}
		if i > 0 && sorted[i-1] == s {
			return nil, fmt.Errorf("duplicate signer %d", s)
		}
		if s == key.Index {
			own = true
		}
	}
	if !own {
		return nil, fmt.Errorf("party %d is not among the signers", key.Index)
	}

	return sorted, nil
}

func (s *OfflineStage) queueAnnounce() error {
	publicShare, err := s.pubPoly.Eval(int(s.key.Index) - 1).V.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal public share: %w", err)
	}
	publicKey, err := s.key.PublicKey().MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}

	body, err := protocol.EncodeRound(roundAnnounce, announcePayload{
		KeyIndex:    s.key.Index,
		PublicShare: publicShare,
		PublicKey:   publicKey,
	})
	if err != nil {
		return err
	}
	s.outgoing = append(s.outgoing, protocol.Broadcast(s.position, body))

	return nil
}

func (s *OfflineStage) Outgoing() []protocol.Message {
	out := s.outgoing
	s.outgoing = nil
	return out
}

func (s *OfflineStage) Handle(msg protocol.Message) error {
	if s.result != nil {
		return nil
	}

	body, err := protocol.DecodeRound(msg)
	if err != nil {
		return err
	}
	if body.Round != roundAnnounce || !msg.IsBroadcast() {
		return protocol.NewError(protocol.InconsistentRound, msg.Sender, fmt.Errorf("unexpected round %d", body.Round))
	}
	if err := s.collector.Add(body.Round, msg.Sender, body.Payload); err != nil {
		return err
	}
	if !s.collector.Complete(roundAnnounce) {
		return nil
	}

	return s.finish(s.collector.Take(roundAnnounce))
}

func (s *OfflineStage) finish(payloads map[uint16]json.RawMessage) error {
	seen := map[uint16]uint16{s.key.Index: s.position}
	for sender, raw := range payloads {
		var payload announcePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return protocol.NewError(protocol.MalformedMessage, sender, fmt.Errorf("failed to unmarshal announcement: %w", err))
		}
		if !s.isSigner(payload.KeyIndex) {
			return protocol.NewError(protocol.InconsistentRound, sender, fmt.Errorf("key index %d is not a signer", payload.KeyIndex))
		}
		if other, ok := seen[payload.KeyIndex]; ok {
			return protocol.NewError(protocol.InconsistentRound, sender,
				fmt.Errorf("key index %d already announced by position %d", payload.KeyIndex, other))
		}
		seen[payload.KeyIndex] = sender

		if err := s.checkPoint(payload.PublicKey, s.key.PublicKey()); err != nil {
			return protocol.NewError(protocol.InconsistentRound, sender, fmt.Errorf("public key mismatch: %w", err))
		}
		if err := s.checkPoint(payload.PublicShare, s.pubPoly.Eval(int(payload.KeyIndex)-1).V); err != nil {
			return protocol.NewError(protocol.InconsistentRound, sender, fmt.Errorf("public share mismatch: %w", err))
		}
	}

	s.result = &CompletedOfflineStage{
		share:     s.key.Share,
		pubPoly:   s.pubPoly,
		signers:   s.signers,
		threshold: s.key.Threshold,
		parties:   s.key.Parties,
	}

	return nil
}

func (s *OfflineStage) isSigner(keyIndex uint16) bool {
	for _, signer := range s.signers {
		if signer == keyIndex {
			return true
		}
	}
	return false
}

func (s *OfflineStage) checkPoint(data []byte, expected kyber.Point) error {
	p := dkg.Suite().Point()
	if err := p.UnmarshalBinary(data); err != nil {
		return err
	}
	if !p.Equal(expected) {
		return errors.New("points differ")
	}
	return nil
}

func (s *OfflineStage) Done() bool {
	return s.result != nil
}

func (s *OfflineStage) Result() (*CompletedOfflineStage, error) {
	if s.result == nil {
		return nil, errors.New("offline stage is not complete")
	}
	return s.result, nil
}
