package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/dkg"
	"github.com/lidofinance/tssd/protocol"
	"github.com/lidofinance/tssd/relay"
)

type KeygenRequest struct {
	Identity  string
	Index     uint16
	Threshold uint16
	Parties   uint16
}

func (r KeygenRequest) Validate() error {
	if r.Identity == "" {
		return errors.New("identity is empty")
	}
	if r.Threshold < 1 || r.Threshold >= r.Parties {
		return fmt.Errorf("threshold must be in [1, %d), got %d", r.Parties, r.Threshold)
	}
	if r.Index < 1 || r.Index > r.Parties {
		return fmt.Errorf("index must be in [1, %d], got %d", r.Parties, r.Index)
	}
	return nil
}

type KeyGenerator interface {
	Generate(ctx context.Context, req KeygenRequest) (*dkg.LocalKeyShare, error)
}

type BaseKeyGenerator struct {
	relay        relay.Joiner
	roundTimeout time.Duration
	Logger       logger.Logger
}

func NewKeyGenerator(r relay.Joiner, roundTimeout time.Duration, l logger.Logger) *BaseKeyGenerator {
	return &BaseKeyGenerator{
		relay:        r,
		roundTimeout: roundTimeout,
		Logger:       l,
	}
}

// Generate runs key generation in the room named after the identity. The
// result is not persisted.
func (g *BaseKeyGenerator) Generate(ctx context.Context, req KeygenRequest) (*dkg.LocalKeyShare, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid keygen request: %w", err)
	}

	session, err := g.relay.Join(ctx, req.Identity, relay.WithPartyIndex(req.Index))
	if err != nil {
		return nil, fmt.Errorf("failed to join keygen room: %w", err)
	}
	defer session.Close()

	machine, err := dkg.NewDKG(req.Identity, req.Index, req.Threshold, req.Parties)
	if err != nil {
		return nil, fmt.Errorf("failed to init keygen: %w", err)
	}

	runCtx, cancel := withDeadline(ctx, g.roundTimeout)
	defer cancel()

	keyShare, err := protocol.Run[*dkg.LocalKeyShare](runCtx, machine, session)
	if err != nil {
		return nil, fmt.Errorf("failed to run keygen: %w", err)
	}

	g.Logger.Log("keygen for %s completed as party %d of %d", req.Identity, req.Index, req.Parties)

	return keyShare, nil
}

func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
