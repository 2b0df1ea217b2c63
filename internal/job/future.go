package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

var ErrPanic = errors.New("task panicked")

// Future is the pending result of a function running in its own goroutine.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go runs fn in a new goroutine. A panic inside fn is recovered and surfaced
// as an ErrPanic error from Await.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	future := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(future.done)
		defer func() {
			if r := recover(); r != nil {
				future.err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
			}
		}()

		future.value, future.err = fn(ctx)
	}()

	return future
}

// Await blocks until the function has returned, or until the context is
// cancelled.
func (future *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-future.done:
		return future.value, future.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
