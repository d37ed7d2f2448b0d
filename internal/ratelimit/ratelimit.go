// Package ratelimit implements the process-wide login/gift gates: a
// single caller is admitted at a time, and the gate only reopens a fixed
// delay after the acquiring caller's acquisition succeeded
// (not after it releases).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a gate with a post-acquire delay. The delay is measured from
// the moment Acquire returns successfully, so a caller that does slow work
// inside the critical section does not extend the cooldown.
type Limiter struct {
	delay time.Duration

	mu     sync.Mutex
	nextOK time.Time // earliest time a new acquire may succeed
	held   bool
}

// New returns a Limiter whose gate reopens delay after each successful
// acquire.
func New(delay time.Duration) *Limiter {
	return &Limiter{delay: delay}
}

// Acquire blocks until the gate is free, or ctx is cancelled. On success the
// caller must call Release when it is done with the critical section; the
// gate will not admit a new caller until delay has elapsed since this
// Acquire call succeeded, even if Release is called immediately.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		if !l.held && !time.Now().Before(l.nextOK) {
			l.held = true
			l.nextOK = time.Now().Add(l.delay)
			l.mu.Unlock()
			return nil
		}
		wait := time.Until(l.nextOK)
		held := l.held
		l.mu.Unlock()

		if held {
			// Another caller is inside the critical section; poll instead
			// of guessing a sleep duration, to stay responsive to Release.
			wait = 10 * time.Millisecond
		}
		if wait <= 0 {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Release frees the gate for waiting callers. It does not shorten the
// post-acquire delay computed by Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}
