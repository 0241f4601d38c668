package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limiter enforces two constraints on every throttled request: a rolling
// per-second request cap and a minimum spacing between consecutive
// requests.
//
// Wait never fails except on context cancellation; quota pressure is
// always converted into a delay.
type Limiter struct {
	mu          sync.Mutex
	maxPerSec   int
	minInterval time.Duration

	windowStart time.Time
	count       int
	lastRequest time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New returns a Limiter allowing at most maxPerSec requests in any rolling
// one-second window, with at least minInterval between consecutive
// requests.
func New(maxPerSec int, minInterval time.Duration) *Limiter {
	if maxPerSec <= 0 {
		maxPerSec = 50
	}
	if minInterval <= 0 {
		minInterval = time.Second / time.Duration(maxPerSec)
	}
	return &Limiter{
		maxPerSec:   maxPerSec,
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Wait blocks until one more request may be issued. It must be called
// before every network operation that counts against the shared quota,
// including nested media downloads.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.now()
	if l.windowStart.IsZero() || current.Sub(l.windowStart) >= time.Second {
		l.count = 0
		l.windowStart = current
	}
	l.count++

	if l.count > l.maxPerSec {
		wait := time.Second - current.Sub(l.windowStart)
		if wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
		l.count = 1
		l.windowStart = l.now()
		current = l.windowStart
	}

	if !l.lastRequest.IsZero() {
		if since := current.Sub(l.lastRequest); since < l.minInterval {
			if err := l.sleep(ctx, l.minInterval-since); err != nil {
				return err
			}
		}
	}
	l.lastRequest = l.now()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errClockRequired = errors.New("clock functions are required")

// WithClock replaces the wall clock, for tests that need deterministic
// timing. The sleep function must advance the clock itself.
func (l *Limiter) WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) error {
	if now == nil || sleep == nil {
		return errClockRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.sleep = sleep
	return nil
}
