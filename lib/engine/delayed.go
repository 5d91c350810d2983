package engine

import (
	"context"
	"sync"
)

// A Delayed is a computation that has been described but not run.
// Compute runs it at most once; later calls return the first result.
type Delayed[T any] struct {
	once   sync.Once
	fn     func(ctx context.Context) (T, error)
	result T
	err    error
	done   chan struct{}
}

func NewDelayed[T any](fn func(ctx context.Context) (T, error)) *Delayed[T] {
	return &Delayed[T]{fn: fn, done: make(chan struct{})}
}

// Compute starts the computation if nobody has started it yet and waits for
// it or for ctx. Cancelling ctx only stops this caller from waiting: the
// computation keeps the values of ctx but not its cancellation, so other
// callers still get the result.
func (d *Delayed[T]) Compute(ctx context.Context) (T, error) {
	d.once.Do(func() {
		runCtx := context.WithoutCancel(ctx)
		go func() {
			defer close(d.done)
			d.result, d.err = d.fn(runCtx)
		}()
	})
	select {
	case <-d.done:
		return d.result, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the computation has finished.
func (d *Delayed[T]) Done() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
