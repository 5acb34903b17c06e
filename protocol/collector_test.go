package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollector_BuffersLaterRounds(t *testing.T) {
	req := require.New(t)

	c := NewCollector([]uint16{2, 3})

	req.NoError(c.Add(2, 2, json.RawMessage(`"early"`)))
	req.NoError(c.Add(1, 2, json.RawMessage(`"a"`)))
	req.False(c.Complete(1))
	req.NoError(c.Add(1, 3, json.RawMessage(`"b"`)))
	req.True(c.Complete(1))

	round1 := c.Take(1)
	req.Len(round1, 2)
	req.Equal(json.RawMessage(`"b"`), round1[3])

	req.False(c.Complete(2))
	req.NoError(c.Add(2, 3, json.RawMessage(`"late"`)))
	req.True(c.Complete(2))
	req.Equal(json.RawMessage(`"early"`), c.Take(2)[2])
}

func TestCollector_Rejects(t *testing.T) {
	req := require.New(t)

	c := NewCollector([]uint16{2})

	err := c.Add(1, 5, nil)
	req.True(IsKind(err, InconsistentRound))

	req.NoError(c.Add(1, 2, nil))
	err = c.Add(1, 2, nil)
	req.True(IsKind(err, InconsistentRound))

	c.Take(1)
	err = c.Add(1, 2, nil)
	req.True(IsKind(err, InconsistentRound))
}

func TestMessage_IsFor(t *testing.T) {
	req := require.New(t)

	req.True(Broadcast(1, nil).IsFor(2))
	req.False(Broadcast(2, nil).IsFor(2))
	req.True(P2P(1, 2, nil).IsFor(2))
	req.False(P2P(1, 3, nil).IsFor(2))
}
