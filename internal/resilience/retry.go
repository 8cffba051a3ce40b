// Package resilience wraps single operations with bounded retry, exponential
// backoff with jitter and a hard timeout. It is the only layer that retries.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/logger"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt timer.
	Timeout time.Duration
}

func PolicyFromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		Timeout:     c.Timeout,
	}
}

// Backoff returns the delay before the retry that follows failed attempt n (1-based):
// min(max, base * 2^(n-1) * jitter), jitter in [0.5, 1.0].
func Backoff(attempt int, base, maxDelay time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if jitter < 0.5 {
		jitter = 0.5
	} else if jitter > 1 {
		jitter = 1
	}

	d := float64(base) * math.Pow(2, float64(attempt-1)) * jitter
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrOperationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Executor runs operations under a Policy and records them in Metrics.
type Executor struct {
	metrics *Metrics

	mu    sync.Mutex
	rand  *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(metrics *Metrics) *Executor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Executor{
		metrics: metrics,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepCtx,
	}
}

func (e *Executor) Metrics() *Metrics {
	return e.metrics
}

func (e *Executor) jitter() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return 0.5 + e.rand.Float64()*0.5
}

// Do runs fn until it succeeds, fails with a non-retryable error, or runs out of attempts.
func (e *Executor) Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, e, op, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute is Do for operations that return a value.
func Execute[T any](ctx context.Context, e *Executor, op string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	var (
		val      T
		err      error
		attempts int
	)
	for attempts = 1; ; attempts++ {
		val, err = WithTimeout(ctx, p.Timeout, fn)
		if err == nil {
			break
		}
		if attempts >= maxAttempts || !IsRetryable(err) {
			break
		}

		delay := Backoff(attempts, p.BaseDelay, p.MaxDelay, e.jitter())
		logger.Log.Warn("Operation failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			err = sleepErr
			break
		}
	}

	e.metrics.Record(op, time.Since(start), attempts, err)
	if err != nil {
		logger.Log.Debug("Operation failed",
			zap.String("operation", op),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
	return val, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
