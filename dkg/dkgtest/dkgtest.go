// Package dkgtest generates key shares in memory, without a relay.
package dkgtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/tssd/dkg"
	"github.com/lidofinance/tssd/protocol"
)

// Generate runs a full key generation between parties in-memory machines.
func Generate(t testing.TB, identity string, threshold, parties uint16) []*dkg.LocalKeyShare {
	machines := make([]*dkg.DKG, parties)
	for i := range machines {
		d, err := dkg.NewDKG(identity, uint16(i+1), threshold, parties)
		require.NoError(t, err)
		machines[i] = d
	}

	for {
		var pending []protocol.Message
		for _, d := range machines {
			pending = append(pending, d.Outgoing()...)
		}
		if len(pending) == 0 {
			break
		}
		for _, msg := range pending {
			for i, d := range machines {
				if msg.IsFor(uint16(i + 1)) {
					require.NoError(t, d.Handle(msg))
				}
			}
		}
	}

	shares := make([]*dkg.LocalKeyShare, parties)
	for i, d := range machines {
		keyShare, err := d.Result()
		require.NoError(t, err)
		shares[i] = keyShare
	}
	return shares
}
