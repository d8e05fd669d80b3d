package erp

import (
	"context"
	"math/rand"
	"time"

	"github.com/remitmatch/cashapp-agent/cashapperr"
)

// RetryConfig bounds the shared backoff-with-jitter loop used by the ERP
// facade (and by the communicator's transport sends). MaxAttempts counts
// the first attempt as well as the retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxTotal    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	// One initial attempt plus up to 5 retries.
	return RetryConfig{MaxAttempts: 6, BaseDelay: 200 * time.Millisecond, MaxTotal: 60 * time.Second}
}

// Do runs fn, retrying only when it returns a *cashapperr.Error with
// Retryable=true (ERPTransient, ConcurrencyConflict). 4xx-shaped errors
// surface immediately without consuming a retry.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(cfg.MaxTotal)
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return cashapperr.Wrap(cashapperr.KindCancelled, "context cancelled during retry", err)
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		cerr, ok := cashapperr.AsError(err)
		if !ok || !cerr.Retryable {
			return err
		}
		if attempt == cfg.MaxAttempts || time.Now().After(deadline) {
			break
		}
		delay := backoffWithJitter(cfg.BaseDelay, attempt)
		remaining := time.Until(deadline)
		if delay > remaining {
			delay = remaining
		}
		select {
		case <-ctx.Done():
			return cashapperr.Wrap(cashapperr.KindCancelled, "context cancelled during retry", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffWithJitter(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return d + jitter
}
