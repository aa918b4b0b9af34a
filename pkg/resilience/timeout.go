package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks a call that outlived its own deadline, as opposed to one
// whose caller went away.
var ErrTimeout = fmt.Errorf("%w: call timed out", context.DeadlineExceeded)

// CallWithTimeout runs fn under a deadline derived from ctx. A non-positive
// timeout runs fn with ctx unchanged. fn keeps running in the background
// after the deadline; its result is discarded.
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := fn(callCtx)
		done <- outcome{val, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return out.val, fmt.Errorf("%s after %v: %w", name, timeout, ErrTimeout)
		}
		return out.val, out.err
	case <-callCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		return zero, fmt.Errorf("%s after %v: %w", name, timeout, ErrTimeout)
	}
}
