package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Guard is the single mutual-exclusion lock serializing the logical
// processing passes: webhook-triggered batches, the startup sweep, and the
// periodic sweep all contend for it. It is an explicit async lock (acquire
// suspends on the context rather than blocking a thread), shared by
// construction rather than by goroutine affinity.
//
// Retry timer callbacks deliberately run outside the Guard: they re-enter
// only the single-task submission path, never the idempotency-checking batch
// path, so they cannot create duplicate tasks. Status races between a timer
// and a sweep resolve via the store's last-writer-wins update.
type Guard struct {
	sem *semaphore.Weighted
}

// NewGuard creates a guard admitting one holder at a time.
func NewGuard() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the guard is free or ctx is done.
func (g *Guard) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring processing guard: %w", err)
	}
	return nil
}

// Release frees the guard for the next waiter.
func (g *Guard) Release() {
	g.sem.Release(1)
}
