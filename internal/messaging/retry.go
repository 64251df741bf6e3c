package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/inbox/internal/metrics"
	"github.com/eldtechnologies/inbox/internal/store"
)

const (
	maxTxAttempts     = 3
	retryBackoffStep  = 5 * time.Millisecond
	maxResolveAttempt = 3
)

// runTx runs fn as one atomic unit, retrying transparently when the store
// reports a transient conflict with a concurrent writer.
func runTx(ctx context.Context, ds store.DataStore, op string, fn func(store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = ds.InTx(ctx, fn)
		if !errors.Is(err, store.ErrRetryable) || attempt == maxTxAttempts {
			return err
		}

		metrics.TxRetries.WithLabelValues(op).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoffStep):
		}
	}
	return err
}
