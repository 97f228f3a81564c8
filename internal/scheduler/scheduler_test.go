package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextDelaySelection(t *testing.T) {
	s := New(Options{Interval: time.Hour, RetryInterval: 5 * time.Minute}, zerolog.Nop())

	if got := s.NextDelay(false); got != time.Hour {
		t.Fatalf("success delay = %s, want 1h", got)
	}
	if got := s.NextDelay(true); got != 5*time.Minute {
		t.Fatalf("failure delay = %s, want 5m", got)
	}
}

func TestRetryIntervalDefaultsToInterval(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	if got := s.NextDelay(true); got != time.Minute {
		t.Fatalf("failure delay = %s, want 1m", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, RetryInterval: time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, now time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if ticks.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks.Load())
	}
}

func TestRunContinuesAfterTickError(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, RetryInterval: time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, now time.Time) error {
			if ticks.Add(1) >= 2 {
				cancel()
			}
			return errors.New("store unreachable")
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if ticks.Load() < 2 {
		t.Fatal("a failing tick must not terminate the loop")
	}
}
