package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Scheduler serializes work per source_account_ref (one consumer goroutine
// per key, fed by a channel buffered to 256 tasks; Enqueue blocks while
// that buffer is full) while bounding total concurrency
// across accounts with a global weighted semaphore. This generalizes the
// teacher's per-business mutex map (accountingWorkflow.go) from "one mutex
// per key, locked for the message's duration" to "one single-consumer queue
// per key, fed by many producers, with a global cap" — needed here because
// workflow steps suspend on external I/O for seconds at a time, so a mutex
// held across those calls would starve other accounts' dispatch goroutines.
type Scheduler struct {
	global *semaphore.Weighted

	mu     sync.Mutex
	queues map[string]chan func(ctx context.Context)
}

func NewScheduler(maxConcurrentTransactions int64) *Scheduler {
	if maxConcurrentTransactions <= 0 {
		maxConcurrentTransactions = 10
	}
	return &Scheduler{
		global: semaphore.NewWeighted(maxConcurrentTransactions),
		queues: make(map[string]chan func(ctx context.Context)),
	}
}

// Enqueue schedules task to run after every previously-enqueued task for
// the same sourceAccountRef has completed, and after a global concurrency
// slot is available. Tasks for distinct account refs run concurrently.
func (s *Scheduler) Enqueue(sourceAccountRef string, task func(ctx context.Context)) {
	s.queueFor(sourceAccountRef) <- task
}

func (s *Scheduler) queueFor(sourceAccountRef string) chan func(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[sourceAccountRef]
	if ok {
		return q
	}
	q = make(chan func(ctx context.Context), 256)
	s.queues[sourceAccountRef] = q
	go s.consume(sourceAccountRef, q)
	return q
}

func (s *Scheduler) consume(sourceAccountRef string, q chan func(ctx context.Context)) {
	ctx := context.Background()
	for task := range q {
		if err := s.global.Acquire(ctx, 1); err != nil {
			continue
		}
		task(ctx)
		s.global.Release(1)
	}
}
