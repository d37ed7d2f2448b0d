package clock

import (
	"context"
	"time"
)

// SleepOrSignal sleeps for d, waking early if sig fires or ctx is
// cancelled. It reports which of the three happened via the returned
// values: elapsed is how long the sleep actually ran, woken is true if sig
// fired first, and the context error (if any) is returned as err.
//
// This is the suspension point behind CardsFarmer's FarmSolo/FarmHours
// sleep: sleep for farmingDelay minutes OR until the reset event fires,
// whichever comes first.
func SleepOrSignal(ctx context.Context, d time.Duration, sig *ResetSignal) (elapsed time.Duration, woken bool, err error) {
	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return time.Since(start), false, nil
	case <-sig.C():
		return time.Since(start), true, nil
	case <-ctx.Done():
		return time.Since(start), false, ctx.Err()
	}
}

// PeriodicTask runs fn every interval until ctx is cancelled. interval<=0
// disables the task entirely (the "0 = off" convention used for
// acceptConfirmationsPeriod / sendTradePeriod), returning immediately.
// A ticker-driven loop selecting between the ticker and a stop channel.
func PeriodicTask(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// After waits for d or ctx cancellation, returning true if the duration
// elapsed and false if ctx was cancelled first. Used for the 25-minute
// invalid-password throttle and the ready-state 1-second grace window in
// the Bot state machine.
func After(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
