package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every cycle with the wall-clock time the cycle
// started.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval      time.Duration
	RetryInterval time.Duration
	StartupDelay  time.Duration
}

// Scheduler drives a periodic job, degrading to a shorter retry interval
// after a failed cycle and returning to the normal cadence on success.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = opts.Interval
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function each cycle until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		started := time.Now().UTC()
		s.logger.Info().Time("cycle", started).Msg("executing scheduled cycle")

		err := tick(ctx, started)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.opts.Interval
		if err != nil {
			delay = s.opts.RetryInterval
			s.logger.Error().Err(err).Dur("retry_in", delay).Msg("cycle failed, backing off to retry interval")
		} else {
			s.logger.Debug().Dur("next_in", delay).Msg("cycle complete")
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// NextDelay reports the delay the scheduler would choose after a cycle
// with the given outcome.
func (s *Scheduler) NextDelay(failed bool) time.Duration {
	if failed {
		return s.opts.RetryInterval
	}
	return s.opts.Interval
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
