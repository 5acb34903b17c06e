package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is a single frame exchanged between the parties of one room.
// A nil Receiver means the message is broadcast to every party.
type Message struct {
	Sender   uint16          `json:"sender"`
	Receiver *uint16         `json:"receiver"`
	Body     json.RawMessage `json:"body"`
}

func (m Message) IsBroadcast() bool {
	return m.Receiver == nil
}

// IsFor reports whether the party with the given index must receive m.
func (m Message) IsFor(index uint16) bool {
	return m.Sender != index && (m.Receiver == nil || *m.Receiver == index)
}

func Broadcast(sender uint16, body json.RawMessage) Message {
	return Message{Sender: sender, Body: body}
}

func P2P(sender, receiver uint16, body json.RawMessage) Message {
	return Message{Sender: sender, Receiver: &receiver, Body: body}
}

// RoundBody tags a protocol payload with the round it belongs to.
type RoundBody struct {
	Round   int             `json:"round"`
	Payload json.RawMessage `json:"payload"`
}

func EncodeRound(round int, payload interface{}) (json.RawMessage, error) {
	payloadBz, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal round %d payload: %w", round, err)
	}

	bz, err := json.Marshal(RoundBody{Round: round, Payload: payloadBz})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal round %d body: %w", round, err)
	}

	return bz, nil
}

func DecodeRound(msg Message) (RoundBody, error) {
	var body RoundBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return body, NewError(MalformedMessage, msg.Sender, fmt.Errorf("failed to unmarshal round body: %w", err))
	}
	if body.Round < 1 {
		return body, NewError(MalformedMessage, msg.Sender, fmt.Errorf("invalid round number %d", body.Round))
	}

	return body, nil
}
