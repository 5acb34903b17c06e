package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/lidofinance/tssd/client/modules/keystore"
	"github.com/lidofinance/tssd/protocol"
	"github.com/lidofinance/tssd/relay"
	"github.com/lidofinance/tssd/signing"
)

// Cause maps a handler error to the short string recorded in results and
// the job ledger. The outermost typed error wins: an aggregation failure
// caused by a closed room reports the aggregation failure.
func Cause(err error) string {
	if err == nil {
		return ""
	}

	var (
		aggErr   *signing.AggregationError
		protoErr *protocol.Error
		relayErr *relay.Error
	)
	switch {
	case errors.Is(err, ErrMalformedEnvelope):
		return ErrMalformedEnvelope.Error()
	case errors.As(err, &aggErr):
		return fmt.Sprintf("%s (%d of %d)", aggErr.Kind, aggErr.Received, aggErr.Expected)
	case errors.As(err, &protoErr):
		if protoErr.Party != 0 {
			return fmt.Sprintf("%s (party %d)", protoErr.Kind, protoErr.Party)
		}
		return protoErr.Kind.String()
	case errors.As(err, &relayErr):
		return relayErr.Kind.String()
	case errors.Is(err, keystore.ErrNotFound):
		return "key share not found"
	case errors.Is(err, keystore.ErrAmbiguous):
		return "ambiguous key share"
	case errors.Is(err, keystore.ErrConflict):
		return "key share already exists"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal error"
	}
}
