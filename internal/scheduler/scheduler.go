package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs one check cycle and returns the interval to wait before the
// next one, measured from the tick's start time. Returning a non-positive
// interval falls back to Options.FallbackInterval. This lets the caller pick
// the cadence from a fresh settings snapshot on every tick.
type TickFunc func(ctx context.Context, start time.Time) time.Duration

// Options tune scheduler behaviour.
type Options struct {
	FallbackInterval time.Duration
	StartupDelay     time.Duration
}

// Scheduler drives repeated execution of a polling tick.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.FallbackInterval <= 0 {
		panic("scheduler fallback interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function until ctx is cancelled. The wait
// between ticks counts from tick start, not tick end, so a slow tick does
// not stretch the cadence; cancellation interrupts the wait immediately.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now().UTC()
		s.logger.Debug().Time("tick_start", start).Msg("executing scheduled tick")

		interval := tick(ctx, start)
		if interval <= 0 {
			interval = s.opts.FallbackInterval
		}

		delay := time.Until(start.Add(interval))
		if delay <= 0 {
			// The tick overran its own interval; start the next one right away.
			s.logger.Warn().Dur("interval", interval).Msg("tick overran check interval")
			continue
		}

		s.logger.Debug().Dur("delay", delay).Msg("waiting for next tick")
		if err := s.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
