package orchestrator

import (
	"testing"
	"time"
)

func TestOutboxDirectProcessor_BackoffGrowsExponentiallyAndCaps(t *testing.T) {
	p := &OutboxDirectProcessor{BaseBackoff: time.Second}

	if got := p.backoff(1); got != time.Second {
		t.Fatalf("attempt 1: got %v, want 1s", got)
	}
	if got := p.backoff(2); got != 2*time.Second {
		t.Fatalf("attempt 2: got %v, want 2s", got)
	}
	if got := p.backoff(4); got != 8*time.Second {
		t.Fatalf("attempt 4: got %v, want 8s", got)
	}
	if got := p.backoff(20); got != 5*time.Minute {
		t.Fatalf("attempt 20: got %v, want capped at 5m", got)
	}
}

func TestOutboxDirectProcessor_BackoffDefaultsBaseWhenUnset(t *testing.T) {
	p := &OutboxDirectProcessor{}
	if got := p.backoff(1); got != time.Second {
		t.Fatalf("got %v, want default 1s base", got)
	}
}
