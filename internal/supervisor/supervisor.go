// Package supervisor implements the fleet-wide bot map: start-all,
// shutdown, and the small view of sibling bots that key
// forwarding/distribution and fleet-wide commands depend on. A
// mutex-guarded map of bots, a health-check ticker, and a Shutdown that
// stops every bot and waits for each.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steamfleet/farmhand/internal/bot"
)

// healthCheckInterval is how often fleet health gets logged.
const healthCheckInterval = time.Minute

// Supervisor owns every Bot in the fleet and implements bot.Fleet so each
// Bot can reach its siblings without importing this package.
type Supervisor struct {
	mu   sync.RWMutex
	bots map[string]*bot.Bot

	log *zap.Logger

	exitOnce sync.Once
	exitCh   chan struct{}
}

// New builds an empty Supervisor.
func New(log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		bots:   make(map[string]*bot.Bot),
		log:    log,
		exitCh: make(chan struct{}),
	}
}

// Add registers a bot under the fleet and wires its Fleet view back to
// this Supervisor. Call this for every bot before StartAll.
func (s *Supervisor) Add(name string, b *bot.Bot) {
	s.mu.Lock()
	s.bots[name] = b
	s.mu.Unlock()
	b.SetFleet(s)
}

// StartAll launches every enabled bot and the background health monitor.
// ctx governs the whole fleet's lifetime; cancelling it ends every bot's
// run loop, but unlike Shutdown it neither clears the bots' Running flags
// nor disconnects them.
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.RLock()
	bots := make([]*bot.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		bots = append(bots, b)
	}
	s.mu.RUnlock()

	for _, b := range bots {
		b.Start(ctx)
	}

	go s.Monitor(ctx)
}

// Monitor runs the background health-report loop until ctx is done or
// RequestExit fires. Exposed separately from StartAll so a caller that
// starts bots selectively (e.g. respecting each account's StartOnLaunch
// flag) can still get fleet-health logging.
func (s *Supervisor) Monitor(ctx context.Context) {
	s.monitor(ctx)
}

// Shutdown stops every bot and waits for each to finish disconnecting.
// Safe to call more than once.
func (s *Supervisor) Shutdown() {
	s.log.Info("shutting down fleet")

	s.mu.RLock()
	bots := make([]*bot.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		bots = append(bots, b)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, b := range bots {
		wg.Add(1)
		go func(b *bot.Bot) {
			defer wg.Done()
			b.Stop()
		}(b)
	}
	wg.Wait()

	s.log.Info("fleet shutdown complete")
}

// monitor periodically logs fleet state. Reconnection itself is handled
// inside each Bot's own run loop, so this drives no reconnect attempts,
// only observability.
func (s *Supervisor) monitor(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.exitCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			for name, b := range s.bots {
				s.log.Debug("fleet health", zap.String("bot", name), zap.String("state", b.State().String()))
			}
			s.mu.RUnlock()
		}
	}
}

// Others returns every bot besides the one named name, for key forwarding
// and fleet-wide replies.
func (s *Supervisor) Others(name string) []*bot.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bot.Bot, 0, len(s.bots))
	for n, b := range s.bots {
		if n != name {
			out = append(out, b)
		}
	}
	return out
}

// All returns every bot in the fleet.
func (s *Supervisor) All() []*bot.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bot.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b)
	}
	return out
}

// RequestExit signals the process to shut down, fired by the owner's
// `!exit` command. WaitForExit's channel closes exactly once.
func (s *Supervisor) RequestExit() {
	s.exitOnce.Do(func() { close(s.exitCh) })
}

// WaitForExit returns the channel cmd/farmd blocks on to learn that an
// operator-issued `!exit` should terminate the process.
func (s *Supervisor) WaitForExit() <-chan struct{} {
	return s.exitCh
}
