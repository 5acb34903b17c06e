package dkg

import (
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/corestario/kyber"
	"github.com/corestario/kyber/pairing"
	bls12381 "github.com/corestario/kyber/pairing/bls12381"
	"github.com/corestario/kyber/share"
	vss "github.com/corestario/kyber/share/vss/pedersen"
	"github.com/corestario/kyber/util/random"
	"lukechampine.com/frand"
)

var suite vss.Suite = bls12381.NewBLS12381Suite(nil)

// Suite is the group of key shares and public keys.
func Suite() vss.Suite {
	return suite
}

// PairingSuite returns a new pairing suite for BLS signatures. A suite
// accumulates pairs in its engine and is never reset by a check, so every
// pairing operation needs its own.
func PairingSuite() pairing.Suite {
	return bls12381.NewBLS12381Suite(nil).(pairing.Suite)
}

type frandReader struct{}

func (frandReader) Read(b []byte) (int, error) {
	return frand.Read(b)
}

// RandomStream returns a CSPRNG stream for picking scalars and polynomials.
func RandomStream() cipher.Stream {
	return random.New(frandReader{})
}

type PK2Participant struct {
	Participant uint16
	PK          kyber.Point
}

type PKStore []*PK2Participant

func (s *PKStore) Add(newPk *PK2Participant) bool {
	for _, pk := range *s {
		if pk.Participant == newPk.Participant {
			return false
		}
	}
	*s = append(*s, newPk)

	return true
}

func (s PKStore) Get(participant uint16) (kyber.Point, bool) {
	for _, pk := range s {
		if pk.Participant == participant {
			return pk.PK, true
		}
	}
	return nil, false
}

func (s PKStore) Len() int           { return len(s) }
func (s PKStore) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s PKStore) Less(i, j int) bool { return s[i].Participant < s[j].Participant }

// LocalKeyShare is one party's share of a jointly generated key. Share is
// the party's evaluation of the joint polynomial and Commits are the
// commitments to its coefficients, Commits[0] being the joint public key.
type LocalKeyShare struct {
	Identity  string
	Threshold uint16
	Parties   uint16
	Index     uint16
	Share     *share.PriShare
	Commits   []kyber.Point
}

type localKeyShareJSON struct {
	Identity  string   `json:"identity"`
	Threshold uint16   `json:"threshold"`
	Parties   uint16   `json:"parties"`
	Index     uint16   `json:"index"`
	Share     []byte   `json:"share"`
	Commits   [][]byte `json:"commits"`
}

func (k *LocalKeyShare) Validate() error {
	if k.Threshold < 1 || k.Threshold >= k.Parties {
		return fmt.Errorf("invalid threshold %d for %d parties", k.Threshold, k.Parties)
	}
	if k.Index < 1 || k.Index > k.Parties {
		return fmt.Errorf("invalid index %d for %d parties", k.Index, k.Parties)
	}
	if k.Share == nil || k.Share.V == nil {
		return errors.New("empty share")
	}
	if k.Share.I != int(k.Index)-1 {
		return fmt.Errorf("share index %d does not match party index %d", k.Share.I, k.Index)
	}
	if len(k.Commits) != int(k.Threshold)+1 {
		return fmt.Errorf("expected %d commits, got %d", k.Threshold+1, len(k.Commits))
	}
	return nil
}

// PubPoly is the public polynomial shared by every holder of the key.
func (k *LocalKeyShare) PubPoly() *share.PubPoly {
	return share.NewPubPoly(suite, nil, k.Commits)
}

func (k *LocalKeyShare) PublicKey() kyber.Point {
	return k.Commits[0]
}

func (k *LocalKeyShare) PublicKeyHex() (string, error) {
	bz, err := k.PublicKey().MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return hex.EncodeToString(bz), nil
}

func (k *LocalKeyShare) MarshalJSON() ([]byte, error) {
	shareBz, err := k.Share.V.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal share: %w", err)
	}
	commits, err := MarshalPoints(k.Commits)
	if err != nil {
		return nil, err
	}

	return json.Marshal(localKeyShareJSON{
		Identity:  k.Identity,
		Threshold: k.Threshold,
		Parties:   k.Parties,
		Index:     k.Index,
		Share:     shareBz,
		Commits:   commits,
	})
}

func (k *LocalKeyShare) UnmarshalJSON(data []byte) error {
	var raw localKeyShareJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	v := suite.Scalar()
	if err := v.UnmarshalBinary(raw.Share); err != nil {
		return fmt.Errorf("failed to unmarshal share: %w", err)
	}
	commits, err := UnmarshalPoints(raw.Commits)
	if err != nil {
		return err
	}

	*k = LocalKeyShare{
		Identity:  raw.Identity,
		Threshold: raw.Threshold,
		Parties:   raw.Parties,
		Index:     raw.Index,
		Share:     &share.PriShare{I: int(raw.Index) - 1, V: v},
		Commits:   commits,
	}
	return k.Validate()
}

func MarshalPoints(points []kyber.Point) ([][]byte, error) {
	out := make([][]byte, len(points))
	for i, p := range points {
		bz, err := p.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal point %d: %w", i, err)
		}
		out[i] = bz
	}
	return out, nil
}

func UnmarshalPoints(data [][]byte) ([]kyber.Point, error) {
	out := make([]kyber.Point, len(data))
	for i, bz := range data {
		p := suite.Point()
		if err := p.UnmarshalBinary(bz); err != nil {
			return nil, fmt.Errorf("failed to unmarshal point %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}
