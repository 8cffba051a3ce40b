package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrOperationTimeout is returned when an operation loses the race against its deadline.
var ErrOperationTimeout = errors.New("operation timed out")

// WithTimeout runs fn against a timer. Whichever finishes first wins and the
// context handed to fn is cancelled either way. WithTimeout only returns once
// fn has returned, so a retry never overlaps the attempt it replaces. fn must
// honour ctx. A non-positive d disables the timer.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		cancel()
		<-done
		return zero, ErrOperationTimeout
	case <-ctx.Done():
		<-done
		return zero, ctx.Err()
	}
}
