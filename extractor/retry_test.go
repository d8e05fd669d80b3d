package extractor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryOnTimeout_RetriesOnDeadlineExceeded(t *testing.T) {
	cfg := tierRetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	attempts := 0
	err := retryOnTimeout(context.Background(), cfg, time.Second, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryOnTimeout_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := tierRetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	attempts := 0
	err := retryOnTimeout(context.Background(), cfg, time.Second, func(ctx context.Context) error {
		attempts++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryOnTimeout_DoesNotRetryNonTimeoutFailures(t *testing.T) {
	cfg := tierRetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	permanent := errors.New("bad credentials")
	attempts := 0
	err := retryOnTimeout(context.Background(), cfg, time.Second, func(ctx context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry for non-timeout failures)", attempts)
	}
}
