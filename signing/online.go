package signing

import (
	"fmt"
	"math/big"

	"github.com/corestario/kyber/sign/bls"
	"github.com/corestario/kyber/sign/tbls"

	"github.com/lidofinance/tssd/dkg"
)

// SignManual is the online stage of one signing session: it holds the
// local partial signature until the peers' partials are collected.
type SignManual struct {
	stage *CompletedOfflineStage
	msg   []byte
	local PartialSignature
}

// NewSignManual consumes stage and signs the big-endian encoding of m.
func NewSignManual(m *big.Int, stage *CompletedOfflineStage) (*SignManual, PartialSignature, error) {
	if err := stage.consume(); err != nil {
		return nil, nil, err
	}

	msg := m.Bytes()
	partial, err := tbls.Sign(dkg.PairingSuite(), stage.share, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create partial signature: %w", err)
	}

	return &SignManual{stage: stage, msg: msg, local: partial}, partial, nil
}

// Message returns the bytes being signed.
func (s *SignManual) Message() []byte {
	return s.msg
}

// Complete combines the local partial with exactly one partial from every
// other signer.
func (s *SignManual) Complete(partials []PartialSignature) (*Signature, error) {
	expected := len(s.stage.signers) - 1
	if len(partials) != expected {
		return nil, &AggregationError{Kind: Incomplete, Expected: expected, Received: len(partials)}
	}

	seen := make(map[int]struct{}, len(partials)+1)
	localIndex, err := tbls.SigShare(s.local).Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read local partial index: %w", err)
	}
	seen[localIndex] = struct{}{}

	sigs := make([][]byte, 0, len(partials)+1)
	sigs = append(sigs, s.local)
	for _, partial := range partials {
		invalid := func(err error) error {
			return &AggregationError{Kind: InvalidCombination, Expected: expected, Received: len(partials), Err: err}
		}

		index, err := tbls.SigShare(partial).Index()
		if err != nil {
			return nil, invalid(fmt.Errorf("failed to read partial index: %w", err))
		}
		if !s.isSigner(index) {
			return nil, invalid(fmt.Errorf("partial from key index %d which is not a signer", index+1))
		}
		if _, ok := seen[index]; ok {
			return nil, invalid(fmt.Errorf("duplicate partial from key index %d", index+1))
		}
		seen[index] = struct{}{}

		if err := tbls.Verify(dkg.PairingSuite(), s.stage.pubPoly, s.msg, partial); err != nil {
			return nil, invalid(fmt.Errorf("partial from key index %d does not verify: %w", index+1, err))
		}
		sigs = append(sigs, partial)
	}

	sig, err := tbls.Recover(dkg.PairingSuite(), s.stage.pubPoly, s.msg, sigs, int(s.stage.threshold)+1, int(s.stage.parties))
	if err != nil {
		return nil, &AggregationError{Kind: InvalidCombination, Expected: expected, Received: len(partials), Err: err}
	}
	if err := bls.Verify(dkg.PairingSuite(), s.stage.PublicKey(), s.msg, sig); err != nil {
		return nil, &AggregationError{Kind: InvalidCombination, Expected: expected, Received: len(partials), Err: err}
	}

	pk, err := s.stage.PublicKey().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return &Signature{Signature: sig, PublicKey: pk}, nil
}

func (s *SignManual) isSigner(shareIndex int) bool {
	for _, signer := range s.stage.signers {
		if int(signer)-1 == shareIndex {
			return true
		}
	}
	return false
}
