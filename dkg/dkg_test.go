package dkg

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/corestario/kyber/encrypt/ecies"
	"github.com/corestario/kyber/share"
	"github.com/stretchr/testify/require"

	"github.com/lidofinance/tssd/protocol"
)

// runDKG routes messages between in-memory machines until every one is done.
func runDKG(t *testing.T, threshold, parties uint16) []*LocalKeyShare {
	machines := make([]*DKG, parties)
	for i := range machines {
		d, err := NewDKG("identity", uint16(i+1), threshold, parties)
		require.NoError(t, err)
		machines[i] = d
	}

	for rounds := 0; rounds < 10; rounds++ {
		var pending []protocol.Message
		for _, d := range machines {
			pending = append(pending, d.Outgoing()...)
		}
		if len(pending) == 0 {
			break
		}
		for _, msg := range pending {
			for _, d := range machines {
				if msg.IsFor(d.index) {
					require.NoError(t, d.Handle(msg))
				}
			}
		}
	}

	shares := make([]*LocalKeyShare, parties)
	for i, d := range machines {
		require.True(t, d.Done(), "party %d is not done", i+1)
		keyShare, err := d.Result()
		require.NoError(t, err)
		shares[i] = keyShare
	}
	return shares
}

func TestDKG_JointPublicKey(t *testing.T) {
	for _, tc := range []struct{ threshold, parties uint16 }{
		{1, 2}, {1, 3}, {2, 3}, {2, 4},
	} {
		t.Run(fmt.Sprintf("%d-of-%d", tc.threshold+1, tc.parties), func(t *testing.T) {
			req := require.New(t)

			shares := runDKG(t, tc.threshold, tc.parties)
			for i, keyShare := range shares {
				req.NoError(keyShare.Validate())
				req.Equal(uint16(i+1), keyShare.Index)
				req.True(shares[0].PublicKey().Equal(keyShare.PublicKey()))
			}

			priShares := make([]*share.PriShare, len(shares))
			for i, keyShare := range shares {
				priShares[i] = keyShare.Share
				req.True(suite.Point().Mul(keyShare.Share.V, nil).Equal(keyShare.PubPoly().Eval(i).V))
			}
			secret, err := share.RecoverSecret(suite, priShares[:tc.threshold+1], int(tc.threshold)+1, int(tc.parties))
			req.NoError(err)
			req.True(suite.Point().Mul(secret, nil).Equal(shares[0].PublicKey()))
		})
	}
}

func TestNewDKG_InvalidParameters(t *testing.T) {
	req := require.New(t)

	_, err := NewDKG("id", 1, 0, 3)
	req.Error(err)
	_, err = NewDKG("id", 1, 3, 3)
	req.Error(err)
	_, err = NewDKG("id", 0, 1, 3)
	req.Error(err)
	_, err = NewDKG("id", 4, 1, 3)
	req.Error(err)
}

func TestDKG_RejectsForgedDeal(t *testing.T) {
	req := require.New(t)

	alice, err := NewDKG("identity", 1, 1, 2)
	req.NoError(err)
	bob, err := NewDKG("identity", 2, 1, 2)
	req.NoError(err)

	for _, msg := range alice.Outgoing() {
		req.NoError(bob.Handle(msg))
	}
	for _, msg := range bob.Outgoing() {
		req.NoError(alice.Handle(msg))
	}

	// an evaluation that does not lie on bob's committed polynomial
	evaluation, err := suite.Scalar().Pick(RandomStream()).MarshalBinary()
	req.NoError(err)
	cipher, err := ecies.Encrypt(suite, alice.pubKey, evaluation, suite.Hash)
	req.NoError(err)
	body, err := protocol.EncodeRound(roundDeals, dealPayload{Cipher: cipher})
	req.NoError(err)

	err = alice.Handle(protocol.P2P(2, 1, body))
	req.True(protocol.IsKind(err, protocol.MalformedMessage), "unexpected error: %v", err)
	req.False(alice.Done())
}

func TestDKG_RejectsMisroutedRounds(t *testing.T) {
	req := require.New(t)

	d, err := NewDKG("identity", 1, 1, 3)
	req.NoError(err)

	body, err := protocol.EncodeRound(roundCommits, commitsPayload{})
	req.NoError(err)
	err = d.Handle(protocol.P2P(2, 1, body))
	req.True(protocol.IsKind(err, protocol.InconsistentRound))

	body, err = protocol.EncodeRound(roundDeals, dealPayload{})
	req.NoError(err)
	err = d.Handle(protocol.Broadcast(2, body))
	req.True(protocol.IsKind(err, protocol.InconsistentRound))

	body, err = protocol.EncodeRound(roundCommits, commitsPayload{Commits: [][]byte{{1}}})
	req.NoError(err)
	req.NoError(d.Handle(protocol.Broadcast(2, body)))
	err = d.Handle(protocol.Broadcast(3, body))
	req.True(protocol.IsKind(err, protocol.MalformedMessage))
}

func TestLocalKeyShare_JSON(t *testing.T) {
	req := require.New(t)

	keyShare := runDKG(t, 1, 2)[1]

	bz, err := json.Marshal(keyShare)
	req.NoError(err)

	var decoded LocalKeyShare
	req.NoError(json.Unmarshal(bz, &decoded))
	req.Equal(keyShare.Identity, decoded.Identity)
	req.Equal(keyShare.Index, decoded.Index)
	req.Equal(keyShare.Share.I, decoded.Share.I)
	req.True(keyShare.Share.V.Equal(decoded.Share.V))
	req.True(keyShare.PublicKey().Equal(decoded.PublicKey()))

	req.Error(json.Unmarshal([]byte(`{"threshold":1,"parties":2,"index":3}`), &decoded))
}
