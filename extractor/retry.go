package extractor

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// tierRetryConfig bounds the retry loop each remote tier (Layout's OCR
// call, Cloud's form-recognition call) uses for request timeouts.
type tierRetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// defaultTierRetry allows up to two retries (three attempts total) with
// exponential backoff, per the documented timeout-retry behavior for the
// Layout and Cloud tiers.
var defaultTierRetry = tierRetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}

const (
	layoutTierCallTimeout = 8 * time.Second
	cloudTierCallTimeout  = 8 * time.Second
)

// retryOnTimeout runs fn under its own per-attempt deadline, retrying only
// when an attempt failed because that deadline was exceeded. A failure
// that isn't a timeout (bad credentials, a malformed response) surfaces
// immediately, since retrying it would not change the outcome.
func retryOnTimeout(ctx context.Context, cfg tierRetryConfig, perAttemptTimeout time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, context.DeadlineExceeded) || attempt == cfg.MaxAttempts {
			return lastErr
		}
		delay := cfg.BaseDelay << (attempt - 1)
		delay += time.Duration(rand.Int63n(int64(cfg.BaseDelay) + 1))
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
	return lastErr
}
