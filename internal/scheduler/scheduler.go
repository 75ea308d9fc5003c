package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Outcome reports what a tick did.
type Outcome int

const (
	// Idle means no new block was available.
	Idle Outcome = iota
	// Processed means a new block was handled and the next tick should run right away.
	Processed
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	default:
		return "idle"
	}
}

// TickFunc is invoked once per polling cycle.
type TickFunc func(ctx context.Context) (Outcome, error)

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	Backoff      time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the block polling loop.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Options returns the effective options.
func (s *Scheduler) Options() Options { return s.opts }

// Run blocks, invoking tick until ctx is cancelled. A failed tick is logged and
// followed by the fixed backoff; an idle tick waits one interval; a processed
// tick is followed immediately by the next one.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if err := sleep(ctx, s.opts.StartupDelay); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := tick(ctx)

		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Dur("backoff", s.opts.Backoff).Msg("polling cycle failed")
			wait = s.opts.Backoff
		case outcome == Idle:
			wait = s.opts.Interval
		default:
			continue
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
