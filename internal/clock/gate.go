package clock

import (
	"context"
	"sync"
)

// Gate is a bounded-concurrency admission primitive: at most n holders may
// be inside the critical section at once. A buffered-channel-as-semaphore
// idiom. OneAtATime below is its n=1 specialization, backing every
// per-bot serialization mutex in this repo (CardsFarmer.start's preamble
// guard, Trading's checkTrades/sendLoot guards).
type Gate struct {
	slots chan struct{}
}

// NewGate returns a Gate admitting at most n concurrent holders.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to take a slot without blocking, returning false if
// none is free. Used by CardsFarmer.start to detect a concurrent round
// already in progress.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot.
func (g *Gate) Release() {
	select {
	case <-g.slots:
	default:
	}
}

// OneAtATime is Gate(1) given the boolean "already running" interface
// nowFarming-style guards want, rather than a generic Acquire/Release pair.
type OneAtATime struct {
	gate Gate
	once sync.Once
}

func (o *OneAtATime) init() {
	o.once.Do(func() { o.gate.slots = make(chan struct{}, 1) })
}

// TryEnter reports whether the caller acquired exclusive entry. Returns
// false immediately if another caller is already inside.
func (o *OneAtATime) TryEnter() bool {
	o.init()
	return o.gate.TryAcquire()
}

// Exit releases exclusive entry.
func (o *OneAtATime) Exit() {
	o.init()
	o.gate.Release()
}

// Running reports the current state without acquiring.
func (o *OneAtATime) Running() bool {
	o.init()
	if !o.gate.TryAcquire() {
		return true
	}
	o.gate.Release()
	return false
}
