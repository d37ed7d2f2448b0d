// Package farmer implements the Cards Farmer scheduler:
// discovers games with unearned card drops, picks the Simple or Complex
// algorithm per account configuration, and drives the Platform Client's
// "playing" notifications until every discovered game is exhausted.
package farmer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steamfleet/farmhand/internal/clock"
	"github.com/steamfleet/farmhand/internal/platform"
)

// soloThresholdHours is the hours-played cutoff the Complex algorithm uses
// to split gamesToFarm into the soloSet and multiSet.
const soloThresholdHours = 2.0

// maxBatchSize caps how many app-ids the Complex algorithm will drive
// simultaneously in one FarmHours batch: 32 concurrent app-ids even
// when more are eligible.
const maxBatchSize = 32

// Config carries the farming policy knobs from a bot's configuration.
type Config struct {
	CardDropsRestricted bool
	Blacklist           []uint32
	GlobalBlacklist     []uint32
	FarmingDelay        time.Duration
	MaxFarmingTime      time.Duration
}

// PlayFunc reports the given app-ids as currently being played, mirroring
// platform.Client.PlayGames.
type PlayFunc func(ctx context.Context, appIDs []uint32, customName string)

// Farmer is one bot's Cards Farmer instance. One Farmer per bot; never
// shared across accounts.
type Farmer struct {
	web  platform.WebSession
	play PlayFunc
	cfg  Config
	log  *zap.Logger

	onFinished func(anySuccess bool)

	gate  clock.OneAtATime
	reset *clock.ResetSignal

	mu               sync.Mutex
	manualMode       bool
	playingBlocked   bool
	keepFarming      bool
	gamesToFarm      map[uint32]float64
	currentlyFarming map[uint32]struct{}
	done             chan struct{}
}

// New builds a Farmer for one bot. onFinished is invoked at the end of a
// round whose discovery succeeded, with whether any FarmSolo/FarmHours
// call in it returned while farming was still enabled (false when there
// was nothing to farm); a round whose discovery fails ends without
// calling it.
func New(web platform.WebSession, play PlayFunc, cfg Config, onFinished func(bool), log *zap.Logger) *Farmer {
	return &Farmer{
		web:              web,
		play:             play,
		cfg:              cfg,
		log:              log,
		onFinished:       onFinished,
		reset:            clock.NewResetSignal(),
		gamesToFarm:      make(map[uint32]float64),
		currentlyFarming: make(map[uint32]struct{}),
	}
}

// Running reports whether a farming round is currently in flight.
func (f *Farmer) Running() bool {
	return f.gate.Running()
}

// CurrentlyFarming returns the app-ids presently being played, a snapshot
// safe for the caller to range over.
func (f *Farmer) CurrentlyFarming() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint32, 0, len(f.currentlyFarming))
	for id := range f.currentlyFarming {
		ids = append(ids, id)
	}
	return ids
}

// Start is idempotent: if a round is already in flight it returns
// immediately. Concurrent Start calls are serialized on a semaphore; a
// second caller observes the round already running and exits.
func (f *Farmer) Start(ctx context.Context) {
	f.mu.Lock()
	blocked := f.manualMode || f.playingBlocked
	f.mu.Unlock()
	if blocked {
		return
	}
	if !f.gate.TryEnter() {
		return
	}

	done := make(chan struct{})
	f.mu.Lock()
	f.done = done
	f.keepFarming = true
	f.mu.Unlock()
	f.reset.Drain()

	go func() {
		defer close(done)
		defer f.gate.Exit()
		f.run(ctx)
	}()
}

// Stop is idempotent. It wakes any in-flight sleep and waits briefly for
// the round to observe the stop before returning.
func (f *Farmer) Stop() {
	f.mu.Lock()
	f.keepFarming = false
	done := f.done
	f.mu.Unlock()

	f.reset.Fire()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// OnNewItemsNotification wakes an in-flight sleep to re-evaluate drop
// status without waiting out the farming delay.
func (f *Farmer) OnNewItemsNotification() {
	f.reset.Fire()
}

// OnNewGameAdded starts a fresh round if none is running. If one is
// running under the Complex algorithm and the new game is below the
// solo threshold, it is folded into gamesToFarm so it joins the current
// multi-play batch on the next split.
func (f *Farmer) OnNewGameAdded(ctx context.Context, appID uint32, hoursPlayed float64) {
	if !f.Running() {
		f.Start(ctx)
		return
	}
	if f.cfg.CardDropsRestricted && hoursPlayed < soloThresholdHours {
		f.mu.Lock()
		f.gamesToFarm[appID] = hoursPlayed
		f.mu.Unlock()
		f.reset.Fire()
	}
}

// OnDisconnected is equivalent to Stop.
func (f *Farmer) OnDisconnected() {
	f.Stop()
}

// SetPlayingBlocked gates new rounds while someone else is logged in
// playing. Unblocking triggers a fresh Start.
func (f *Farmer) SetPlayingBlocked(ctx context.Context, blocked bool) {
	f.mu.Lock()
	was := f.playingBlocked
	f.playingBlocked = blocked
	f.mu.Unlock()
	if was && !blocked {
		f.Start(ctx)
	} else if blocked {
		f.Stop()
	}
}

// SwitchToManualMode enters or leaves manual mode: on stops farming and
// suppresses future rounds; off clears the flag and starts exactly one
// round.
func (f *Farmer) SwitchToManualMode(ctx context.Context, on bool) {
	if on {
		f.Stop()
		f.mu.Lock()
		f.manualMode = true
		f.mu.Unlock()
		return
	}
	f.mu.Lock()
	f.manualMode = false
	f.mu.Unlock()
	f.Start(ctx)
}

func (f *Farmer) run(ctx context.Context) {
	defer f.clearState()

	games, err := f.discover(ctx)
	if err != nil {
		if f.log != nil {
			f.log.Warn("cards farmer discovery failed", zap.Error(err))
		}
		return
	}
	if len(games) == 0 {
		f.onFinished(false)
		return
	}

	f.mu.Lock()
	f.gamesToFarm = games
	f.mu.Unlock()

	var anySuccess bool
	if f.cfg.CardDropsRestricted {
		anySuccess = f.runComplex(ctx)
	} else {
		anySuccess = f.runSimple(ctx)
	}
	f.onFinished(anySuccess)
}

func (f *Farmer) clearState() {
	f.mu.Lock()
	f.gamesToFarm = make(map[uint32]float64)
	f.currentlyFarming = make(map[uint32]struct{})
	f.done = nil
	f.mu.Unlock()
}

// discover implements IsAnythingToFarm: badge page 1 gives
// the page count, remaining pages are fetched in parallel, results are
// merged and filtered against the per-bot and global blacklists.
func (f *Farmer) discover(ctx context.Context) (map[uint32]float64, error) {
	entries, maxPage, err := f.web.GetBadgePage(ctx, 1)
	if err != nil {
		return nil, err
	}

	all := append([]platform.BadgeEntry{}, entries...)
	if maxPage > 1 {
		type pageResult struct {
			entries []platform.BadgeEntry
			err     error
		}
		results := make([]pageResult, maxPage-1)
		var wg sync.WaitGroup
		for page := 2; page <= maxPage; page++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				es, _, perr := f.web.GetBadgePage(ctx, page)
				results[page-2] = pageResult{es, perr}
			}(page)
		}
		wg.Wait()
		for _, r := range results {
			if r.err != nil {
				if f.log != nil {
					f.log.Warn("badge page fetch failed", zap.Error(r.err))
				}
				continue
			}
			all = append(all, r.entries...)
		}
	}

	blacklist := make(map[uint32]bool, len(f.cfg.Blacklist)+len(f.cfg.GlobalBlacklist))
	for _, id := range f.cfg.Blacklist {
		blacklist[id] = true
	}
	for _, id := range f.cfg.GlobalBlacklist {
		blacklist[id] = true
	}

	games := make(map[uint32]float64, len(all))
	for _, e := range all {
		if blacklist[e.AppID] {
			continue
		}
		games[e.AppID] = e.HoursPlayed
	}
	return games, nil
}

// runSimple implements the unrestricted Simple algorithm.
func (f *Farmer) runSimple(ctx context.Context) bool {
	anySuccess := false
	for {
		appID, ok := f.nextGame()
		if !ok {
			break
		}
		f.markCurrentlyFarming(appID)
		ok2 := f.FarmSolo(ctx, appID)
		f.unmarkCurrentlyFarming(appID)
		f.removeGame(appID)
		if ok2 {
			anySuccess = true
		}
		if !f.getKeepFarming() {
			break
		}
	}
	return anySuccess
}

// runComplex implements the Complex algorithm: solo-farm anything already
// at or above the threshold, otherwise batch-farm the rest until the
// largest hours-played among them reaches it.
func (f *Farmer) runComplex(ctx context.Context) bool {
	anySuccess := false
	for f.gamesRemaining() > 0 {
		solo, multi := f.splitSets()

		if len(solo) > 0 {
			for _, appID := range solo {
				if !f.getKeepFarming() {
					return anySuccess
				}
				f.markCurrentlyFarming(appID)
				ok := f.FarmSolo(ctx, appID)
				f.unmarkCurrentlyFarming(appID)
				f.removeGame(appID)
				if ok {
					anySuccess = true
				}
			}
		} else if len(multi) > 0 {
			batch := multi
			if len(batch) > maxBatchSize {
				batch = batch[:maxBatchSize]
			}
			for _, id := range batch {
				f.markCurrentlyFarming(id)
			}
			ok := f.FarmHours(ctx, batch)
			for _, id := range batch {
				f.unmarkCurrentlyFarming(id)
			}
			if ok {
				anySuccess = true
			}
		} else {
			break
		}

		if !f.getKeepFarming() {
			break
		}
	}
	return anySuccess
}

// FarmSolo farms a single app-id until its card drops are exhausted, its
// time budget is spent, or farming is stopped. Returns success =
// keepFarming still true.
func (f *Farmer) FarmSolo(ctx context.Context, appID uint32) bool {
	f.play(ctx, []uint32{appID}, "")
	deadline := time.Now().Add(f.cfg.MaxFarmingTime)

	for f.getKeepFarming() {
		status, err := f.web.GetGameCardsPage(ctx, appID)
		if err != nil {
			if f.log != nil {
				f.log.Warn("card page fetch failed", zap.Uint32("appID", appID), zap.Error(err))
			}
			break
		}
		if status.CardsRemaining == 0 {
			break
		}
		if !time.Now().Before(deadline) {
			break
		}

		elapsed, _, err := clock.SleepOrSignal(ctx, f.cfg.FarmingDelay, f.reset)
		if err != nil {
			break
		}
		f.addElapsedHours(appID, elapsed)
	}
	return f.getKeepFarming()
}

// FarmHours farms a batch of app-ids simultaneously until the largest
// playtime among them reaches the solo threshold.
func (f *Farmer) FarmHours(ctx context.Context, batch []uint32) bool {
	f.play(ctx, batch, "")

	for f.getKeepFarming() {
		if f.maxHoursAmong(batch) >= soloThresholdHours {
			break
		}
		elapsed, _, err := clock.SleepOrSignal(ctx, f.cfg.FarmingDelay, f.reset)
		if err != nil {
			break
		}
		f.addElapsedHoursBatch(batch, elapsed)
	}
	return f.getKeepFarming()
}

func (f *Farmer) nextGame() (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.gamesToFarm {
		return id, true
	}
	return 0, false
}

func (f *Farmer) gamesRemaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gamesToFarm)
}

func (f *Farmer) splitSets() (solo, multi []uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, hours := range f.gamesToFarm {
		if hours >= soloThresholdHours {
			solo = append(solo, id)
		} else {
			multi = append(multi, id)
		}
	}
	return solo, multi
}

func (f *Farmer) markCurrentlyFarming(appID uint32) {
	f.mu.Lock()
	f.currentlyFarming[appID] = struct{}{}
	f.mu.Unlock()
}

func (f *Farmer) unmarkCurrentlyFarming(appID uint32) {
	f.mu.Lock()
	delete(f.currentlyFarming, appID)
	f.mu.Unlock()
}

func (f *Farmer) removeGame(appID uint32) {
	f.mu.Lock()
	delete(f.gamesToFarm, appID)
	f.mu.Unlock()
}

func (f *Farmer) addElapsedHours(appID uint32, elapsed time.Duration) {
	f.mu.Lock()
	f.gamesToFarm[appID] += elapsed.Hours()
	f.mu.Unlock()
}

func (f *Farmer) addElapsedHoursBatch(batch []uint32, elapsed time.Duration) {
	f.mu.Lock()
	for _, id := range batch {
		f.gamesToFarm[id] += elapsed.Hours()
	}
	f.mu.Unlock()
}

func (f *Farmer) maxHoursAmong(batch []uint32) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max float64
	for _, id := range batch {
		if h := f.gamesToFarm[id]; h > max {
			max = h
		}
	}
	return max
}

func (f *Farmer) getKeepFarming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepFarming
}
