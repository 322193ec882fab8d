package async

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by AwaitWithTimeout when the future does not
// complete in time.
var ErrTimeout = errors.New("async: operation timed out waiting for future completion")

// Future represents the result of an asynchronous computation.
type Future[U any] struct {
	result U
	err    error
	done   chan struct{}
}

// Await blocks until the computation completes and returns its result.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout blocks until completion or the timeout, whichever comes
// first. On timeout it returns ErrTimeout; the computation keeps running.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		var zero U
		return zero, ErrTimeout
	}
}

// Async runs fn in its own goroutine and returns a Future for its result.
// A pre-cancelled context short-circuits without starting the work.
func Async[T any, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		select {
		case <-ctx.Done():
			f.err = ctx.Err()
			return
		default:
		}

		f.result, f.err = fn(ctx, param)
	}()

	return f
}

// WaitAll waits for every future and collects the results in order. The
// returned error joins every individual failure.
func WaitAll[U any](futures ...*Future[U]) ([]U, error) {
	results := make([]U, len(futures))
	var errs []error
	for i, f := range futures {
		result, err := f.Await()
		results[i] = result
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}
