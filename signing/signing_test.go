package signing

import (
	"math/big"
	"testing"

	"github.com/corestario/kyber/sign/bls"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lidofinance/tssd/dkg"
	"github.com/lidofinance/tssd/dkg/dkgtest"
	"github.com/lidofinance/tssd/protocol"
)

// runOffline seats the owners of signers in the order given and routes
// their announcements.
func runOffline(t *testing.T, shares []*dkg.LocalKeyShare, signers []uint16) []*CompletedOfflineStage {
	stages := make([]*OfflineStage, len(signers))
	for pos, keyIndex := range signers {
		stage, err := NewOfflineStage(uint16(pos+1), signers, shares[keyIndex-1])
		require.NoError(t, err)
		stages[pos] = stage
	}

	var pending []protocol.Message
	for _, s := range stages {
		pending = append(pending, s.Outgoing()...)
	}
	for _, msg := range pending {
		for pos, s := range stages {
			if msg.IsFor(uint16(pos + 1)) {
				require.NoError(t, s.Handle(msg))
			}
		}
	}

	completed := make([]*CompletedOfflineStage, len(stages))
	for i, s := range stages {
		require.True(t, s.Done())
		c, err := s.Result()
		require.NoError(t, err)
		completed[i] = c
	}
	return completed
}

func signAll(t *testing.T, stages []*CompletedOfflineStage, m *big.Int) ([]*SignManual, []PartialSignature) {
	manuals := make([]*SignManual, len(stages))
	partials := make([]PartialSignature, len(stages))
	for i, stage := range stages {
		manual, partial, err := NewSignManual(m, stage)
		require.NoError(t, err)
		manuals[i], partials[i] = manual, partial
	}
	return manuals, partials
}

func others(partials []PartialSignature, skip int) []PartialSignature {
	out := make([]PartialSignature, 0, len(partials)-1)
	for i, p := range partials {
		if i != skip {
			out = append(out, p)
		}
	}
	return out
}

func TestSign_SubsetsVerifyAgainstJointKey(t *testing.T) {
	shares := dkgtest.Generate(t, "identity", 2, 4)
	m := new(big.Int).SetBytes([]byte("transfer 10 tokens"))

	for _, signers := range [][]uint16{{1, 2, 3}, {4, 2, 1}, {1, 2, 3, 4}} {
		req := require.New(t)

		stages := runOffline(t, shares, signers)
		manuals, partials := signAll(t, stages, m)

		for i, manual := range manuals {
			sig, err := manual.Complete(others(partials, i))
			req.NoError(err)
			req.NoError(bls.Verify(dkg.PairingSuite(), shares[0].PublicKey(), m.Bytes(), sig.Signature))
			req.NoError(sig.Verify(m.Bytes()))
		}
	}
}

func TestSign_CompleteConcurrently(t *testing.T) {
	req := require.New(t)

	shares := dkgtest.Generate(t, "identity", 2, 4)
	m := new(big.Int).SetBytes([]byte{0xc0, 0xff, 0xee})

	const sessions = 8
	manuals := make([][]*SignManual, sessions)
	partials := make([][]PartialSignature, sessions)
	for i := 0; i < sessions; i++ {
		stages := runOffline(t, shares, []uint16{1, 2, 3})
		manuals[i], partials[i] = signAll(t, stages, m)
	}

	var g errgroup.Group
	for i := 0; i < sessions; i++ {
		for j := range manuals[i] {
			manual, peers := manuals[i][j], others(partials[i], j)
			g.Go(func() error {
				sig, err := manual.Complete(peers)
				if err != nil {
					return err
				}
				return sig.Verify(m.Bytes())
			})
		}
	}
	req.NoError(g.Wait())
}

func TestSignature_VerifyConcurrently(t *testing.T) {
	req := require.New(t)

	shares := dkgtest.Generate(t, "identity", 1, 3)
	m := big.NewInt(1234)
	stages := runOffline(t, shares, []uint16{1, 2})
	manuals, partials := signAll(t, stages, m)
	sig, err := manuals[0].Complete(others(partials, 0))
	req.NoError(err)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 25; j++ {
				if err := sig.Verify(m.Bytes()); err != nil {
					return err
				}
			}
			return nil
		})
	}
	req.NoError(g.Wait())
}

func TestSignature_VerifyAfterRejection(t *testing.T) {
	req := require.New(t)

	shares := dkgtest.Generate(t, "identity", 1, 3)
	m := big.NewInt(99)
	stages := runOffline(t, shares, []uint16{2, 3})
	manuals, partials := signAll(t, stages, m)
	sig, err := manuals[1].Complete(others(partials, 1))
	req.NoError(err)

	req.Error(sig.Verify(big.NewInt(100).Bytes()))
	req.NoError(sig.Verify(m.Bytes()))
}

func TestSign_Incomplete(t *testing.T) {
	req := require.New(t)

	shares := dkgtest.Generate(t, "identity", 1, 3)
	stages := runOffline(t, shares, []uint16{1, 2, 3})
	manuals, partials := signAll(t, stages, big.NewInt(42))

	_, err := manuals[0].Complete(partials[1:2])
	var aerr *AggregationError
	req.ErrorAs(err, &aerr)
	req.Equal(Incomplete, aerr.Kind)
	req.Equal(2, aerr.Expected)
	req.Equal(1, aerr.Received)
}

func TestSign_RejectsDuplicateAndForeignPartials(t *testing.T) {
	req := require.New(t)

	shares := dkgtest.Generate(t, "identity", 1, 3)
	m := big.NewInt(7)

	stages := runOffline(t, shares, []uint16{1, 2, 3})
	manuals, partials := signAll(t, stages, m)

	var aerr *AggregationError
	_, err := manuals[0].Complete([]PartialSignature{partials[1], partials[1]})
	req.ErrorAs(err, &aerr)
	req.Equal(InvalidCombination, aerr.Kind)

	// a partial over a different message
	otherStages := runOffline(t, shares, []uint16{1, 2, 3})
	_, otherPartials := signAll(t, otherStages, big.NewInt(8))
	_, err = manuals[1].Complete([]PartialSignature{partials[0], otherPartials[2]})
	req.ErrorAs(err, &aerr)
	req.Equal(InvalidCombination, aerr.Kind)
}

func TestOfflineStage_SingleUse(t *testing.T) {
	req := require.New(t)

	shares := dkgtest.Generate(t, "identity", 1, 2)
	stages := runOffline(t, shares, []uint16{1, 2})

	_, _, err := NewSignManual(big.NewInt(1), stages[0])
	req.NoError(err)
	_, _, err = NewSignManual(big.NewInt(1), stages[0])
	req.ErrorIs(err, ErrStageConsumed)
}

func TestNewOfflineStage_InvalidSigners(t *testing.T) {
	req := require.New(t)

	shares := dkgtest.Generate(t, "identity", 2, 4)

	_, err := NewOfflineStage(1, []uint16{1, 2}, shares[0])
	req.Error(err, "too few signers")
	_, err = NewOfflineStage(1, []uint16{2, 3, 4}, shares[0])
	req.Error(err, "own index missing")
	_, err = NewOfflineStage(1, []uint16{1, 1, 2}, shares[0])
	req.Error(err, "duplicate signer")
	_, err = NewOfflineStage(1, []uint16{1, 2, 5}, shares[0])
	req.Error(err, "signer out of range")
	_, err = NewOfflineStage(4, []uint16{1, 2, 3}, shares[0])
	req.Error(err, "position out of range")
}

func TestOfflineStage_RejectsForeignKey(t *testing.T) {
	req := require.New(t)

	shares := dkgtest.Generate(t, "identity", 1, 2)
	foreign := dkgtest.Generate(t, "other", 1, 2)

	alice, err := NewOfflineStage(1, []uint16{1, 2}, shares[0])
	req.NoError(err)
	mallory, err := NewOfflineStage(2, []uint16{1, 2}, foreign[1])
	req.NoError(err)

	for _, msg := range mallory.Outgoing() {
		err = alice.Handle(msg)
	}
	req.True(protocol.IsKind(err, protocol.InconsistentRound), "unexpected error: %v", err)
	req.False(alice.Done())
}

func TestSignature_Serialize(t *testing.T) {
	req := require.New(t)

	sig := &Signature{Signature: []byte{0xde, 0xad}, PublicKey: []byte{0xbe, 0xef}}
	data, err := sig.Serialize()
	req.NoError(err)
	req.JSONEq(`{"signature":"dead","public_key":"beef"}`, data)

	parsed, err := ParseSignature(data)
	req.NoError(err)
	req.Equal(sig, parsed)
}
