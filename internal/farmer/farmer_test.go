package farmer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/steamfleet/farmhand/internal/platform"
)

// fakeWeb is a minimal platform.WebSession stub exercising only the
// badge/card-page methods Farmer depends on.
type fakeWeb struct {
	platform.WebSession

	mu         sync.Mutex
	badgePages map[int][]platform.BadgeEntry
	maxPage    int
	cardSeq    map[uint32][]int // per app-id, successive CardsRemaining values
	cardCalls  map[uint32]int
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{
		badgePages: make(map[int][]platform.BadgeEntry),
		cardSeq:    make(map[uint32][]int),
		cardCalls:  make(map[uint32]int),
		maxPage:    1,
	}
}

func (f *fakeWeb) GetBadgePage(ctx context.Context, page int) ([]platform.BadgeEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.badgePages[page], f.maxPage, nil
}

func (f *fakeWeb) GetGameCardsPage(ctx context.Context, appID uint32) (platform.CardStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.cardSeq[appID]
	idx := f.cardCalls[appID]
	f.cardCalls[appID]++
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	return platform.CardStatus{CardsRemaining: seq[idx]}, nil
}

func fakePlay(calls *[][]uint32, mu *sync.Mutex) PlayFunc {
	return func(ctx context.Context, appIDs []uint32, customName string) {
		mu.Lock()
		defer mu.Unlock()
		*calls = append(*calls, append([]uint32{}, appIDs...))
	}
}

func TestSimpleAlgorithmSingleDrop(t *testing.T) {
	web := newFakeWeb()
	web.badgePages[1] = []platform.BadgeEntry{{AppID: 440, HoursPlayed: 3.2}}
	web.cardSeq[440] = []int{2, 1, 0}

	var playCalls [][]uint32
	var playMu sync.Mutex

	var finishedAny bool
	var finishedCalled bool
	var wg sync.WaitGroup
	wg.Add(1)

	f := New(web, fakePlay(&playCalls, &playMu), Config{
		CardDropsRestricted: false,
		FarmingDelay:        5 * time.Millisecond,
		MaxFarmingTime:      time.Hour,
	}, func(any bool) {
		finishedAny = any
		finishedCalled = true
		wg.Done()
	}, nil)

	f.Start(context.Background())
	wg.Wait()

	if !finishedCalled || !finishedAny {
		t.Fatalf("expected onFinished(true), got called=%v any=%v", finishedCalled, finishedAny)
	}
	playMu.Lock()
	defer playMu.Unlock()
	if len(playCalls) == 0 || playCalls[0][0] != 440 {
		t.Fatalf("expected playGames({440}) to be called, got %v", playCalls)
	}
	if len(f.CurrentlyFarming()) != 0 {
		t.Fatal("expected currentlyFarming to be empty after round completes")
	}
}

func TestComplexAlgorithmMixedSets(t *testing.T) {
	web := newFakeWeb()
	web.badgePages[1] = []platform.BadgeEntry{
		{AppID: 10, HoursPlayed: 2.5},
		{AppID: 20, HoursPlayed: 0.5},
		{AppID: 30, HoursPlayed: 0.8},
		{AppID: 40, HoursPlayed: 1.0},
	}
	web.cardSeq[10] = []int{0} // solo set: finishes immediately

	var playCalls [][]uint32
	var playMu sync.Mutex

	f := New(web, fakePlay(&playCalls, &playMu), Config{
		CardDropsRestricted: true,
		FarmingDelay:        time.Hour, // multiSet batch won't reach the 2h threshold during this test
		MaxFarmingTime:      time.Hour,
	}, func(any bool) {}, nil)

	f.Start(context.Background())
	// Give the solo phase time to finish and the multiSet batch to start.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		playMu.Lock()
		n := len(playCalls)
		playMu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.Stop()

	playMu.Lock()
	defer playMu.Unlock()
	if len(playCalls) == 0 || playCalls[0][0] != 10 {
		t.Fatalf("expected the solo set (app 10) to be farmed first, got %v", playCalls)
	}

	foundBatch := false
	for _, call := range playCalls[1:] {
		if len(call) == 3 {
			foundBatch = true
		}
	}
	if !foundBatch {
		t.Fatalf("expected a 3-member multiSet batch call, got %v", playCalls)
	}
}

func TestResetEventWakesSleepEarly(t *testing.T) {
	web := newFakeWeb()
	web.cardSeq[7] = []int{5, 5, 5}

	var playCalls [][]uint32
	var playMu sync.Mutex

	f := New(web, fakePlay(&playCalls, &playMu), Config{
		FarmingDelay:   time.Hour, // only the signal should be able to wake this sleep in time
		MaxFarmingTime: time.Hour,
	}, func(bool) {}, nil)
	f.mu.Lock()
	f.keepFarming = true
	f.mu.Unlock()

	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- f.FarmSolo(context.Background(), 7)
	}()

	time.Sleep(20 * time.Millisecond) // let the first poll happen and the sleep begin
	fireTime := time.Now()
	f.OnNewItemsNotification()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		web.mu.Lock()
		calls := web.cardCalls[7]
		web.mu.Unlock()
		if calls >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if elapsed := time.Since(fireTime); elapsed > time.Second {
		t.Fatalf("expected the reset signal to wake the farming sleep promptly, took %v", elapsed)
	}

	f.Stop()
	<-resultCh
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	web := newFakeWeb()
	web.badgePages[1] = []platform.BadgeEntry{{AppID: 1, HoursPlayed: 0}}
	web.cardSeq[1] = []int{1, 1, 1}

	var playCalls [][]uint32
	var playMu sync.Mutex

	f := New(web, fakePlay(&playCalls, &playMu), Config{
		FarmingDelay:   time.Hour,
		MaxFarmingTime: time.Hour,
	}, func(any bool) {}, nil)

	f.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	if !f.Running() {
		t.Fatal("expected farmer to be running")
	}
	f.Start(context.Background()) // second call should observe running and no-op
	if !f.Running() {
		t.Fatal("expected farmer to remain running after a redundant Start")
	}
	f.Stop()
	if f.Running() {
		t.Fatal("expected farmer to stop")
	}
}

func TestStopWhileNotRunningIsNoOp(t *testing.T) {
	f := New(newFakeWeb(), func(ctx context.Context, ids []uint32, name string) {}, Config{}, func(bool) {}, nil)
	f.Stop() // must not block or panic
	if f.Running() {
		t.Fatal("expected farmer to not be running")
	}
}

func TestSwitchToManualModeTogglesAndRestartsExactlyOnce(t *testing.T) {
	web := newFakeWeb()
	web.badgePages[1] = []platform.BadgeEntry{{AppID: 1, HoursPlayed: 0}}
	web.cardSeq[1] = []int{0}

	var finishedCount int
	var mu sync.Mutex
	f := New(web, func(ctx context.Context, ids []uint32, name string) {}, Config{
		FarmingDelay:   time.Hour,
		MaxFarmingTime: time.Hour,
	}, func(any bool) {
		mu.Lock()
		finishedCount++
		mu.Unlock()
	}, nil)

	f.SwitchToManualMode(context.Background(), true)
	f.SwitchToManualMode(context.Background(), false)

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if finishedCount != 1 {
		t.Fatalf("expected exactly one completed round after toggling manual mode off, got %d", finishedCount)
	}
}
