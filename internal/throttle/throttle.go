// Package throttle limits how often a function runs. The first call in a
// quiet period runs immediately and the latest call made during the window
// runs once when the window ends.
package throttle

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Throttle wraps fn with leading and trailing execution. Arguments of
// suppressed calls are dropped in favour of the most recent ones.
type Throttle[T any] struct {
	mu      sync.Mutex
	fn      func(T)
	wait    time.Duration
	clock   clock.Clock
	last    time.Time
	timer   *clock.Timer
	pending bool
	args    T
	stopped bool
}

// New creates a throttle. A nil clock uses the wall clock.
func New[T any](wait time.Duration, clk clock.Clock, fn func(T)) *Throttle[T] {
	if clk == nil {
		clk = clock.New()
	}
	return &Throttle[T]{fn: fn, wait: wait, clock: clk}
}

// Call runs fn now if the window has elapsed, otherwise schedules it for the
// end of the window with args.
func (t *Throttle[T]) Call(args T) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	now := t.clock.Now()
	elapsed := now.Sub(t.last)
	if t.last.IsZero() || elapsed >= t.wait {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.pending = false
		t.last = now
		t.mu.Unlock()
		t.fn(args)
		return
	}

	t.args = args
	t.pending = true
	remaining := t.wait - elapsed
	if t.timer != nil {
		t.timer.Reset(remaining)
	} else {
		t.timer = t.clock.AfterFunc(remaining, t.trailing)
	}
	t.mu.Unlock()
}

func (t *Throttle[T]) trailing() {
	t.mu.Lock()
	if t.stopped || !t.pending {
		t.mu.Unlock()
		return
	}
	args := t.args
	var zero T
	t.args = zero
	t.pending = false
	t.timer = nil
	t.last = t.clock.Now()
	t.mu.Unlock()

	t.fn(args)
}

// Cancel drops any pending trailing call
func (t *Throttle[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
}

// Stop cancels pending work and ignores every later call
func (t *Throttle[T]) Stop() {
	t.Cancel()
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
