package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunLoopsImmediatelyAfterProcessed(t *testing.T) {
	s := New(Options{Interval: time.Hour, Backoff: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	calls := 0
	err := s.Run(ctx, func(ctx context.Context) (Outcome, error) {
		calls++
		if calls == 5 {
			cancel()
		}
		return Processed, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 back-to-back ticks, got %d", calls)
	}
}

func TestRunWaitsIntervalWhenIdle(t *testing.T) {
	s := New(Options{Interval: 30 * time.Millisecond, Backoff: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var stamps []time.Time
	_ = s.Run(ctx, func(ctx context.Context) (Outcome, error) {
		stamps = append(stamps, time.Now())
		if len(stamps) == 3 {
			cancel()
		}
		return Idle, nil
	})
	if len(stamps) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(stamps))
	}
	if gap := stamps[2].Sub(stamps[1]); gap < 25*time.Millisecond {
		t.Fatalf("idle tick did not wait the interval, gap %s", gap)
	}
}

func TestRunBacksOffAfterFailure(t *testing.T) {
	s := New(Options{Interval: time.Hour, Backoff: 40 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var stamps []time.Time
	err := s.Run(ctx, func(ctx context.Context) (Outcome, error) {
		stamps = append(stamps, time.Now())
		if len(stamps) == 2 {
			cancel()
			return Processed, nil
		}
		return Idle, errors.New("rpc unavailable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if gap := stamps[1].Sub(stamps[0]); gap < 35*time.Millisecond {
		t.Fatalf("expected fixed backoff between ticks, gap %s", gap)
	}
}

func TestRunHonoursCancelDuringStartupDelay(t *testing.T) {
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(ctx context.Context) (Outcome, error) {
		t.Fatalf("tick must not run")
		return Idle, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewDefaultsBackoff(t *testing.T) {
	s := New(Options{Interval: time.Second}, zerolog.Nop())
	if s.Options().Backoff != 2*time.Second {
		t.Fatalf("expected 2s default backoff, got %s", s.Options().Backoff)
	}
}
