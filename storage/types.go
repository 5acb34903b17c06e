package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the JSON body of every queue message.
type Envelope struct {
	RequestID string `json:"request_id"`
	Payload   string `json:"payload"`
}

func (e Envelope) Marshal() ([]byte, error) {
	bz, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return bz, nil
}

// Delivery is one fetched message. It stays unacknowledged until Ack.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

var ErrClosed = errors.New("queue is closed")

// Queue is a durable at-least-once message queue. A delivery is redelivered
// after a restart unless it and every delivery fetched before it on the same
// partition were acked.
type Queue interface {
	Publisher
	// Fetch blocks until a message is available or ctx is done.
	Fetch(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Close() error
}
