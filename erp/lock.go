package erp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// CustomerLock serializes PostApplication calls for the same customer_id so
// two concurrent postings never over-apply to the same invoice. Backed by
// redislock when a client is configured (so the guarantee holds across
// horizontally-scaled facade instances); otherwise falls back to a local
// sync.Mutex per process, mirroring the teacher's MySQL GET_LOCK/RELEASE_LOCK
// pair generalized for a facade callable from multiple replicas.
type CustomerLock struct {
	locker *redislock.Client

	mu        sync.Mutex
	localLocks map[string]*sync.Mutex
}

func NewCustomerLock(locker *redislock.Client) *CustomerLock {
	return &CustomerLock{locker: locker, localLocks: make(map[string]*sync.Mutex)}
}

type unlockFunc func()

// Acquire blocks until the per-customer lock is held, returning a release
// function the caller must defer. The lock is held only for the duration of
// one PostApplication call.
func (c *CustomerLock) Acquire(ctx context.Context, erpSystem, customerId string) (unlockFunc, error) {
	key := fmt.Sprintf("erp-post-lock:%s:%s", erpSystem, customerId)

	if c.locker != nil {
		lock, err := c.locker.Obtain(ctx, key, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
		})
		if err != nil {
			return nil, fmt.Errorf("erp: acquire customer lock %s: %w", key, err)
		}
		return func() { _ = lock.Release(ctx) }, nil
	}

	c.mu.Lock()
	m, ok := c.localLocks[key]
	if !ok {
		m = &sync.Mutex{}
		c.localLocks[key] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}
