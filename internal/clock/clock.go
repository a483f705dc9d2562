// Package clock abstracts wall time so timed sequences can run against a
// virtual clock in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock supplies the current time and context-aware sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now.
func (System) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done.
func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Func adapts a plain time source. Sleep uses the real timer.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// Sleep delegates to System.
func (Func) Sleep(ctx context.Context, d time.Duration) error {
	return System{}.Sleep(ctx, d)
}

// Fake is a virtual clock. Sleep advances the clock by d without blocking.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(time.Duration)
}

// NewFake returns a virtual clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the virtual time forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Sleep records d, advances the clock and invokes the OnSleep hook.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	hook := f.onSleep
	f.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

// OnSleep registers a hook called after each Sleep, outside the lock.
func (f *Fake) OnSleep(fn func(time.Duration)) {
	f.mu.Lock()
	f.onSleep = fn
	f.mu.Unlock()
}

// Sleeps returns every duration passed to Sleep, in order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
