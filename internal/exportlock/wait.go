package exportlock

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Defaults for the follower wait.
const (
	DefaultInterval = 5 * time.Second
	DefaultDeadline = 240 * time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Waiter polls for the export marker with a fixed interval up to a total deadline.
type Waiter struct {
	Interval time.Duration
	Deadline time.Duration
	// Sleep is injectable for tests; nil uses a timer.
	Sleep SleepFunc
	Log   zerolog.Logger
}

// Wait returns nil once ready() is true. When the deadline elapses first it
// returns a timeout error; lockHeld is consulted only to enrich that error.
// Elapsed time is accounted in whole intervals, so an injected Sleep controls
// the observed duration completely.
func (w Waiter) Wait(ctx context.Context, path string, ready func() bool, lockHeld func() bool) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := w.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	sleep := w.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	polls := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64((deadline+interval-1)/interval))
	var waited time.Duration
	for !ready() {
		next := polls.NextBackOff()
		if next == backoff.Stop {
			break
		}
		if err := sleep(ctx, next); err != nil {
			return err
		}
		waited += next
		w.Log.Info().Str("path", path).Dur("waited", waited).Dur("deadline", deadline).Msg("waiting for export marker")
	}
	if ready() {
		return nil
	}
	stuck := lockHeld != nil && lockHeld()
	w.Log.Error().Str("path", path).Dur("waited", waited).Msg("export marker did not appear in time")
	if stuck {
		w.Log.Warn().Str("path", path).Msg("export lock still present; the exporting process may be stuck and the lock file may need manual removal")
	}
	return &timeoutError{path: path, waited: waited, lockStuck: stuck}
}

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
