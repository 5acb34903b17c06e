package protocol

import (
	"context"
	"errors"
	"fmt"
)

var errStreamClosed = errors.New("inbound stream closed")

// StateMachine is a round-based protocol for one party. It must buffer
// messages of a later round until the current round is complete.
type StateMachine[T any] interface {
	// Outgoing drains the messages queued since the previous call.
	Outgoing() []Message
	// Handle applies one incoming message.
	Handle(msg Message) error
	Done() bool
	Result() (T, error)
}

// Transport is a room-scoped message channel.
type Transport interface {
	Incoming() <-chan Message
	Send(ctx context.Context, msg Message) error
	// Err returns the reason the inbound stream was closed, if any.
	Err() error
}

// Run drives sm to completion. Messages are applied strictly in arrival
// order. The run stops at the first fault, or when ctx is done.
func Run[T any](ctx context.Context, sm StateMachine[T], tr Transport) (T, error) {
	var zero T

	for {
		for _, msg := range sm.Outgoing() {
			if err := tr.Send(ctx, msg); err != nil {
				if ctxErr := contextError(ctx); ctxErr != nil {
					return zero, ctxErr
				}
				return zero, fmt.Errorf("failed to send message: %w", err)
			}
		}

		if sm.Done() {
			return sm.Result()
		}

		select {
		case <-ctx.Done():
			return zero, contextError(ctx)
		case msg, ok := <-tr.Incoming():
			if !ok {
				cause := tr.Err()
				if cause == nil {
					cause = errStreamClosed
				}
				return zero, NewError(PartiesUnreachable, 0, cause)
			}
			if err := sm.Handle(msg); err != nil {
				var perr *Error
				if errors.As(err, &perr) {
					return zero, err
				}
				return zero, NewError(MalformedMessage, msg.Sender, err)
			}
		}
	}
}

func contextError(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(Timeout, 0, err)
	default:
		return err
	}
}
