// Package settlement reports finished signatures to the collaborator that
// settles them.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/storage"
)

type Settlement struct {
	JobID     string `json:"job_id"`
	RequestID string `json:"request_id"`
	// Signature is the serialized {"signature","public_key"} document.
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signed_at"`
}

type Reporter interface {
	Report(ctx context.Context, s Settlement) error
}

// QueueReporter publishes settlements to a queue, keyed by job id.
type QueueReporter struct {
	publisher storage.Publisher
	Logger    logger.Logger
}

func NewQueueReporter(p storage.Publisher, l logger.Logger) *QueueReporter {
	return &QueueReporter{publisher: p, Logger: l}
}

func (r *QueueReporter) Report(ctx context.Context, s Settlement) error {
	if s.JobID == "" {
		return errors.New("settlement without job id")
	}
	if s.SignedAt.IsZero() {
		s.SignedAt = time.Now().UTC()
	}

	bz, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}
	if err := r.publisher.Publish(ctx, s.JobID, bz); err != nil {
		return fmt.Errorf("failed to publish settlement: %w", err)
	}

	r.Logger.Log("settlement for job %s (request %s) published", s.JobID, s.RequestID)

	return nil
}
