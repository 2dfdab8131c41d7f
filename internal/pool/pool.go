// Package pool provides a weighted-semaphore limiter shared by everything
// that fans work out to subprocesses.
package pool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent operations. The task manager uses one to enforce
// its execution ceiling and the VCS client uses one to keep simultaneous
// git invocations in check.
type Pool struct {
	sem   *semaphore.Weighted
	limit int
}

// New creates a Pool that allows at most limit concurrent operations.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Limit reports the configured ceiling.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}

// Acquire blocks until a slot is free or ctx is cancelled. Every successful
// Acquire must be paired with exactly one Release.
func (p *Pool) Acquire(ctx context.Context) error {
	if p == nil || p.sem == nil {
		return nil
	}
	return p.sem.Acquire(ctx, 1)
}

// Release returns a slot obtained with Acquire.
func (p *Pool) Release() {
	if p == nil || p.sem == nil {
		return
	}
	p.sem.Release(1)
}

// Run acquires a slot, runs fn, and releases the slot. Blocks if all slots
// are busy. Returns ctx.Err() if the context is cancelled while waiting.
// A nil pool runs fn directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
