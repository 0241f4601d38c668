package ratelimit

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

func TestWaitEnforcesRollingWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	limiter := New(5, time.Millisecond)
	if err := limiter.WithClock(clock.Now, clock.Sleep); err != nil {
		t.Fatalf("WithClock failed: %v", err)
	}

	ctx := context.Background()
	stamps := make([]time.Time, 0, 20)
	for i := 0; i < 20; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		stamps = append(stamps, clock.now)
	}

	// No rolling one-second window may contain more than 5 requests.
	for i := range stamps {
		inWindow := 0
		for j := i; j < len(stamps); j++ {
			if stamps[j].Sub(stamps[i]) < time.Second {
				inWindow++
			}
		}
		if inWindow > 5 {
			t.Fatalf("window starting at request %d holds %d requests", i, inWindow)
		}
	}
}

func TestWaitEnforcesMinInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	limiter := New(1000, 20*time.Millisecond)
	if err := limiter.WithClock(clock.Now, clock.Sleep); err != nil {
		t.Fatalf("WithClock failed: %v", err)
	}

	ctx := context.Background()
	var last time.Time
	for i := 0; i < 50; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if !last.IsZero() {
			if gap := clock.now.Sub(last); gap < 20*time.Millisecond {
				t.Fatalf("request %d spaced %v, want >= 20ms", i, gap)
			}
		}
		last = clock.now
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	limiter := New(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}
	cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("expected cancellation error from second Wait")
	}
}
