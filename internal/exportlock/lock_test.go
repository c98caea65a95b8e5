package exportlock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".export_lock")
	l := NewFileLock(p)
	if l.Held() {
		t.Fatalf("lock should not be held initially")
	}
	h, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !l.Held() {
		t.Fatalf("lock file should exist after acquire")
	}
	if !strings.Contains(l.Owner(), "pid=") {
		t.Fatalf("owner info missing: %q", l.Owner())
	}
	if _, err := l.TryAcquire(); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("second acquire err=%v, want ErrAlreadyHeld", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if l.Held() {
		t.Fatalf("lock file should be gone after release")
	}
	// Release is idempotent.
	if err := h.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	h2, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	_ = h2.Release()
}

func TestFileLock_MutualExclusion(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".export_lock")
	const n = 16
	var acquired, held int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	handles := make(chan Handle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			h, err := NewFileLock(p).TryAcquire()
			switch {
			case err == nil:
				atomic.AddInt32(&acquired, 1)
				handles <- h
			case errors.Is(err, ErrAlreadyHeld):
				atomic.AddInt32(&held, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(handles)
	if acquired != 1 || held != n-1 {
		t.Fatalf("acquired=%d held=%d, want 1 and %d", acquired, held, n-1)
	}
	for h := range handles {
		_ = h.Release()
	}
}

func TestFileLock_AcquireErrorOtherThanExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "missing-dir", ".export_lock")
	_, err := NewFileLock(p).TryAcquire()
	if err == nil || errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("expected non-held error, got %v", err)
	}
}

func TestFileLock_ReleaseReportsRemovalError(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".export_lock")
	h, err := NewFileLock(p).TryAcquire()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if err := h.Release(); err == nil {
		t.Fatalf("expected release error when lock file vanished")
	}
}

// fakeSleep advances a counter instead of sleeping and runs onTick after each step.
func fakeSleep(calls *int, onTick func(n int)) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		*calls++
		if onTick != nil {
			onTick(*calls)
		}
		return nil
	}
}

func TestWaiter_ImmediateReady(t *testing.T) {
	calls := 0
	w := Waiter{Interval: 5 * time.Second, Deadline: 240 * time.Second, Sleep: fakeSleep(&calls, nil)}
	if err := w.Wait(context.Background(), "m", func() bool { return true }, nil); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no sleeps, got %d", calls)
	}
}

func TestWaiter_MarkerAppearsAfterTenUnits(t *testing.T) {
	ready := false
	calls := 0
	w := Waiter{Interval: 5 * time.Second, Deadline: 240 * time.Second, Sleep: fakeSleep(&calls, func(n int) {
		if n*5 >= 10 {
			ready = true
		}
	})}
	if err := w.Wait(context.Background(), "m", func() bool { return ready }, func() bool { return !ready }); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 sleeps, got %d", calls)
	}
}

func TestWaiter_TimeoutWithStuckLock(t *testing.T) {
	calls := 0
	w := Waiter{Interval: 5 * time.Second, Deadline: 240 * time.Second, Sleep: fakeSleep(&calls, nil)}
	err := w.Wait(context.Background(), "m", func() bool { return false }, func() bool { return true })
	if !IsLockTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !LockStillHeld(err) {
		t.Fatalf("expected stuck-lock diagnostic")
	}
	if calls != 48 {
		t.Fatalf("expected 48 sleeps (240/5), got %d", calls)
	}
	if !strings.Contains(err.Error(), "4m0s") {
		t.Fatalf("error should report waited duration: %v", err)
	}
}

func TestWaiter_TimeoutWithoutLock(t *testing.T) {
	calls := 0
	w := Waiter{Interval: time.Second, Deadline: 3 * time.Second, Sleep: fakeSleep(&calls, nil)}
	err := w.Wait(context.Background(), "m", func() bool { return false }, func() bool { return false })
	if !IsLockTimeout(err) || LockStillHeld(err) {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestWaiter_DeadlineRoundsUpToWholeInterval(t *testing.T) {
	calls := 0
	var slept []time.Duration
	w := Waiter{Interval: 2 * time.Second, Deadline: 5 * time.Second, Sleep: func(ctx context.Context, d time.Duration) error {
		calls++
		slept = append(slept, d)
		return nil
	}}
	err := w.Wait(context.Background(), "m", func() bool { return false }, nil)
	if !IsLockTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 sleeps, got %d", calls)
	}
	for _, d := range slept {
		if d != 2*time.Second {
			t.Fatalf("poll interval drifted: %v", slept)
		}
	}
	if !strings.Contains(err.Error(), "6s") {
		t.Fatalf("waited duration: %v", err)
	}
}

func TestWaiter_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	w := Waiter{Sleep: fakeSleep(&calls, nil)}
	err := w.Wait(ctx, "m", func() bool { return false }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsLockTimeout(err) {
		t.Fatalf("cancellation must not be reported as timeout")
	}
}

func TestWaiter_RealTimerSleep(t *testing.T) {
	var n int32
	w := Waiter{Interval: 10 * time.Millisecond, Deadline: time.Second}
	err := w.Wait(context.Background(), "m", func() bool { return atomic.AddInt32(&n, 1) > 3 }, nil)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
}
