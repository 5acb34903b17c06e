package protocol

import (
	"encoding/json"
	"fmt"
)

// Collector implements the round barrier: every expected party contributes
// exactly one message per round, and messages of later rounds wait until
// the machine takes the earlier ones.
type Collector struct {
	expected map[uint16]struct{}
	rounds   map[int]map[uint16]json.RawMessage
	closed   int
}

// NewCollector returns a collector awaiting messages from peers.
func NewCollector(peers []uint16) *Collector {
	expected := make(map[uint16]struct{}, len(peers))
	for _, p := range peers {
		expected[p] = struct{}{}
	}
	return &Collector{
		expected: expected,
		rounds:   make(map[int]map[uint16]json.RawMessage),
	}
}

func (c *Collector) Add(round int, sender uint16, payload json.RawMessage) error {
	if _, ok := c.expected[sender]; !ok {
		return NewError(InconsistentRound, sender, fmt.Errorf("unexpected sender for round %d", round))
	}
	if round <= c.closed {
		return NewError(InconsistentRound, sender, fmt.Errorf("round %d is already complete", round))
	}

	msgs, ok := c.rounds[round]
	if !ok {
		msgs = make(map[uint16]json.RawMessage, len(c.expected))
		c.rounds[round] = msgs
	}
	if _, ok := msgs[sender]; ok {
		return NewError(InconsistentRound, sender, fmt.Errorf("duplicate message for round %d", round))
	}
	msgs[sender] = payload

	return nil
}

// Complete reports whether every peer has contributed to round.
func (c *Collector) Complete(round int) bool {
	return len(c.rounds[round]) == len(c.expected)
}

// Take returns the messages of a complete round and closes it and every
// round before it.
func (c *Collector) Take(round int) map[uint16]json.RawMessage {
	msgs := c.rounds[round]
	for r := range c.rounds {
		if r <= round {
			delete(c.rounds, r)
		}
	}
	if round > c.closed {
		c.closed = round
	}
	return msgs
}
