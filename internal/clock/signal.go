package clock

import "sync"

// ResetSignal is a single-slot edge-triggered signal: Fire never blocks and
// coalesces multiple fires into one pending wakeup, and a receive from C
// consumes at most one pending fire. This is the primitive behind CardsFarmer's
// farmResetEvent: onNewItemsNotification should wake an in-flight sleep
// without queuing up repeated wakeups.
type ResetSignal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewResetSignal returns a ready-to-use signal.
func NewResetSignal() *ResetSignal {
	return &ResetSignal{ch: make(chan struct{}, 1)}
}

// Fire marks the signal as pending. Non-blocking; redundant fires before the
// next receive from C are coalesced into a single wakeup.
func (s *ResetSignal) Fire() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel to select on. Receiving from it consumes the
// pending fire.
func (s *ResetSignal) C() <-chan struct{} {
	return s.ch
}

// Drain clears any pending fire without waiting, used when starting a fresh
// farming round so a stale signal from a previous round can't shortcut the
// first sleep.
func (s *ResetSignal) Drain() {
	select {
	case <-s.ch:
	default:
	}
}
