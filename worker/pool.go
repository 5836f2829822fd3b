// Package worker implements a bounded worker pool that processes a batch of
// claimed campaign tasks concurrently (§4.5's N-worker fan-out). It is
// grounded on the teacher's worker.Pool/Worker (a fixed set of goroutines,
// each blocking-dequeuing from a named queue), generalized here from the
// teacher's per-queue blocking Dequeue(queueName, timeout) into a single
// bounded-concurrency pool over a batch the caller already claimed — the
// scheduler's store.Dequeue claims up to N rows per tick via
// FOR UPDATE SKIP LOCKED, so there is no blocking dequeue left for a
// worker to do; its only job is capping how many of that batch run at
// once.
package worker

import (
	"context"
	"sync"
)

// Processor processes a single claimed item. A non-nil error means the
// item failed; Pool does not retry it — the caller (the Processor built in
// scheduler.considerNodes, which fails the task row) owns failure/retry
// bookkeeping via the task queue.
type Processor[T any] func(ctx context.Context, item T) error

// Pool runs a Processor over a slice of items with at most Size running
// concurrently.
type Pool[T any] struct {
	Size      int
	Processor Processor[T]
}

// New builds a Pool. size <= 0 is treated as 1 (sequential processing
// rather than unbounded fan-out, matching the teacher's DefaultConfig
// convention of always giving every queue at least one worker).
func New[T any](size int, processor Processor[T]) *Pool[T] {
	if size <= 0 {
		size = 1
	}
	return &Pool[T]{Size: size, Processor: processor}
}

// Run processes every item in items, capping concurrency at p.Size, and
// returns once all of them have completed (successfully or not). The
// per-item error is reported to onError, if non-nil, rather than
// collected into a slice — callers typically want to act immediately
// (e.g. the scheduler logging each failed task as it fails) rather than
// wait for the whole batch before reacting to any one failure.
func (p *Pool[T]) Run(ctx context.Context, items []T, onError func(item T, err error)) {
	sem := make(chan struct{}, p.Size)
	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.Processor(ctx, item); err != nil && onError != nil {
				onError(item, err)
			}
		}()
	}
	wg.Wait()
}
