// Package asyncop bridges blocking native completion handles into
// cooperatively awaitable operations.
package asyncop

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Op is a native asynchronous operation whose completion can only be
// observed by a blocking wait.
type Op interface {
	// Wait blocks until the operation completes and returns its result.
	Wait() error
}

// OpFunc adapts a plain function to an Op.
type OpFunc func() error

func (f OpFunc) Wait() error { return f() }

// Done is a pre-completed Op carrying a fixed result.
func Done(err error) Op {
	return OpFunc(func() error { return err })
}

const defaultMaxWaiters = 8

// Dispatcher runs blocking waits on dedicated goroutines so callers can
// await them without stalling the rest of the program. The number of
// concurrently blocked goroutines is bounded.
type Dispatcher struct {
	sem *semaphore.Weighted
}

// NewDispatcher creates a dispatcher allowing up to maxWaiters concurrent
// blocking waits. maxWaiters <= 0 uses a default.
func NewDispatcher(maxWaiters int64) *Dispatcher {
	if maxWaiters <= 0 {
		maxWaiters = defaultMaxWaiters
	}
	return &Dispatcher{sem: semaphore.NewWeighted(maxWaiters)}
}

// Await runs op.Wait on its own goroutine and waits for it cooperatively.
// If ctx expires first, Await returns ctx.Err(); the blocking wait still
// runs to completion in the background and releases its slot when done.
func (d *Dispatcher) Await(ctx context.Context, op Op) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	result := make(chan error, 1)
	go func() {
		defer d.sem.Release(1)
		result <- op.Wait()
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
