// Package executor implements the bounded-concurrency signing bridge:
// acquire one of SLOTS permits, run the signing function on a worker,
// release the permit on every exit path.
package executor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Executor bounds concurrent CPU-bound signing work with a weighted
// semaphore sized THREADS_PER_WORKER * SEMAPHORE_MULTIPLIER.
type Executor struct {
	sem       *semaphore.Weighted
	slots     int64
	available atomic.Int64
	work      chan func()
}

// New creates an Executor with the given slot count and worker pool size.
// workers caps how many fn calls run concurrently on goroutines; slots caps
// how many callers may be waiting-or-running at once (slots >= workers is
// the expected configuration, giving a short queue in front of the pool).
func New(slots int64, workers int) *Executor {
	e := &Executor{
		sem:   semaphore.NewWeighted(slots),
		slots: slots,
		work:  make(chan func()),
	}
	e.available.Store(slots)
	for i := 0; i < workers; i++ {
		go e.runWorker()
	}
	return e
}

func (e *Executor) runWorker() {
	for fn := range e.work {
		fn()
	}
}

// RunWithSlot acquires one permit (cancellable via ctx), dispatches fn to a
// worker goroutine, waits for it to finish, and releases the permit on
// every exit path — success, fn error, or ctx cancellation/timeout. This is
// a hard invariant: a leaked permit eventually stalls the service.
func (e *Executor) RunWithSlot(ctx context.Context, fn func() (string, error)) (string, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", ctx.Err()
	}
	e.available.Add(-1)
	defer func() {
		e.available.Add(1)
		e.sem.Release(1)
	}()

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	task := func() {
		token, err := fn()
		done <- result{token: token, err: err}
	}

	select {
	case e.work <- task:
	case <-ctx.Done():
		// No worker picked up the task before ctx expired; the permit is
		// still released by the deferred call above.
		return "", ctx.Err()
	}

	select {
	case r := <-done:
		return r.token, r.err
	case <-ctx.Done():
		// The worker goroutine runs the signing call to completion
		// (non-preemptive); we simply stop waiting on it here. The
		// permit is still released by the deferred call above.
		return "", ctx.Err()
	}
}

// AvailableSlots reports the current number of free permits, for tests
// asserting permit conservation.
func (e *Executor) AvailableSlots() int64 {
	return e.available.Load()
}
