package syncerr

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Default retry policy used when initializing a connection
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier runs an operation with exponential backoff. A zero MaxAttempts means
// DefaultMaxAttempts; a zero InitialDelay retries without waiting.
type Retrier struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Sleep        SleepFunc
	OnRetry      func(attempt int, delay time.Duration, err error)
}

// RetryWithBackoff runs op up to maxAttempts times, waiting initialDelay*2^i
// after the i-th failure. No wait follows the final attempt; the last error is
// returned if every attempt fails.
func RetryWithBackoff(ctx context.Context, op func(ctx context.Context) error, maxAttempts int, initialDelay time.Duration) error {
	r := Retrier{MaxAttempts: maxAttempts, InitialDelay: initialDelay}
	return r.Do(ctx, op)
}

// Do runs op under the retrier's policy
func (r Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	schedule := r.schedule(attempts)

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		delay := time.Duration(0)
		if schedule != nil {
			delay = schedule.ForAttempt(float64(i))
		}
		if r.OnRetry != nil {
			r.OnRetry(i+1, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

// schedule returns nil when retries should not wait at all
func (r Retrier) schedule(attempts int) *backoff.Backoff {
	if r.InitialDelay <= 0 {
		return nil
	}
	shift := attempts
	if shift > 30 {
		shift = 30
	}
	return &backoff.Backoff{
		Min:    r.InitialDelay,
		Max:    r.InitialDelay << uint(shift),
		Factor: 2,
		Jitter: false,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
