package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/dkg"
	"github.com/lidofinance/tssd/protocol"
	"github.com/lidofinance/tssd/relay"
	"github.com/lidofinance/tssd/signing"
)

type SignRequest struct {
	SessionID string
	Message   string
	Share     *dkg.LocalKeyShare
	// Parties are the key indices of the participating signers.
	Parties []uint16
}

func (r SignRequest) Validate() error {
	if r.SessionID == "" {
		return errors.New("session id is empty")
	}
	if r.Share == nil {
		return errors.New("key share is missing")
	}
	if len(r.Parties) < int(r.Share.Threshold)+1 {
		return fmt.Errorf("at least %d parties required, got %d", r.Share.Threshold+1, len(r.Parties))
	}
	for _, p := range r.Parties {
		if p == r.Share.Index {
			return nil
		}
	}
	return fmt.Errorf("key index %d is not among parties %v", r.Share.Index, r.Parties)
}

type Signer interface {
	Sign(ctx context.Context, req SignRequest) (string, error)
}

type BaseSigner struct {
	relay        relay.Joiner
	roundTimeout time.Duration
	Logger       logger.Logger
}

func NewSigner(r relay.Joiner, roundTimeout time.Duration, l logger.Logger) *BaseSigner {
	return &BaseSigner{
		relay:        r,
		roundTimeout: roundTimeout,
		Logger:       l,
	}
}

// Sign runs the offline stage in "{session}-offline" and then exchanges
// partial signatures in "{session}-online". It returns the serialized
// signature.
func (s *BaseSigner) Sign(ctx context.Context, req SignRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid sign request: %w", err)
	}

	stage, err := s.offline(ctx, req)
	if err != nil {
		return "", err
	}

	sig, err := s.online(ctx, req, stage)
	if err != nil {
		return "", err
	}

	return sig.Serialize()
}

func (s *BaseSigner) offline(ctx context.Context, req SignRequest) (*signing.CompletedOfflineStage, error) {
	session, err := s.relay.Join(ctx, OfflineRoom(req.SessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to join offline room: %w", err)
	}
	defer session.Close()

	machine, err := signing.NewOfflineStage(session.Index(), req.Parties, req.Share)
	if err != nil {
		return nil, fmt.Errorf("failed to init offline stage: %w", err)
	}

	runCtx, cancel := withDeadline(ctx, s.roundTimeout)
	defer cancel()

	stage, err := protocol.Run[*signing.CompletedOfflineStage](runCtx, machine, session)
	if err != nil {
		return nil, fmt.Errorf("failed to run offline stage: %w", err)
	}

	return stage, nil
}

func (s *BaseSigner) online(ctx context.Context, req SignRequest, stage *signing.CompletedOfflineStage) (*signing.Signature, error) {
	session, err := s.relay.Join(ctx, OnlineRoom(req.SessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to join online room: %w", err)
	}
	defer session.Close()

	manual, partial, err := signing.NewSignManual(DigestInt(req.Message), stage)
	if err != nil {
		return nil, fmt.Errorf("failed to start online stage: %w", err)
	}

	body, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal partial signature: %w", err)
	}

	runCtx, cancel := withDeadline(ctx, s.roundTimeout)
	defer cancel()

	if err := session.Send(runCtx, protocol.Broadcast(session.Index(), body)); err != nil {
		return nil, fmt.Errorf("failed to broadcast partial signature: %w", err)
	}

	partials, err := collectPartials(runCtx, session, len(stage.Signers())-1)
	if err != nil {
		return nil, err
	}

	sig, err := manual.Complete(partials)
	if err != nil {
		return nil, fmt.Errorf("failed to combine partial signatures: %w", err)
	}

	s.Logger.Log("session %s signed by parties %v", req.SessionID, stage.Signers())

	return sig, nil
}

// collectPartials reads the first want partial signatures from the room.
func collectPartials(ctx context.Context, session relay.Session, want int) ([]signing.PartialSignature, error) {
	partials := make([]signing.PartialSignature, 0, want)
	for len(partials) < want {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, protocol.NewError(protocol.Timeout, 0, ctx.Err())
			}
			return nil, ctx.Err()
		case msg, ok := <-session.Incoming():
			if !ok {
				return nil, &signing.AggregationError{
					Kind:     signing.Incomplete,
					Expected: want,
					Received: len(partials),
					Err:      session.Err(),
				}
			}
			var partial signing.PartialSignature
			if err := json.Unmarshal(msg.Body, &partial); err != nil {
				return nil, protocol.NewError(protocol.MalformedMessage, msg.Sender, fmt.Errorf("failed to unmarshal partial signature: %w", err))
			}
			partials = append(partials, partial)
		}
	}
	return partials, nil
}
