package erp

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ConnectionPools bounds concurrency per erp_system, default weight 8.
type ConnectionPools struct {
	mu       sync.Mutex
	weight   int64
	bySystem map[string]*semaphore.Weighted
}

func NewConnectionPools(defaultWeight int64) *ConnectionPools {
	if defaultWeight <= 0 {
		defaultWeight = 8
	}
	return &ConnectionPools{weight: defaultWeight, bySystem: make(map[string]*semaphore.Weighted)}
}

func (p *ConnectionPools) poolFor(erpSystem string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.bySystem[erpSystem]
	if !ok {
		s = semaphore.NewWeighted(p.weight)
		p.bySystem[erpSystem] = s
	}
	return s
}

// Acquire blocks for a connection slot for erpSystem; release with the
// returned function.
func (p *ConnectionPools) Acquire(ctx context.Context, erpSystem string) (func(), error) {
	sem := p.poolFor(erpSystem)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
