// Package scheduler triggers periodic recurrence sweeps. The scheduler is
// an explicit object with injected clock and schedule, started and stopped
// by the process lifecycle; it owns no global state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"paisa/internal/services"
)

// SweepRunner runs one sweep and reports on it. *services.SweepProcessor
// implements it.
type SweepRunner interface {
	RunSweep(ctx context.Context) (services.RunReport, error)
}

// Options configures a Scheduler. CronSpec takes precedence over Interval
// when both are set; one of them is required.
type Options struct {
	// CronSpec is a standard 5-field cron expression, e.g. "30 2 * * *"
	// for once daily at 02:30.
	CronSpec string

	// Interval triggers a sweep every fixed duration instead.
	Interval time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type Scheduler struct {
	runner   SweepRunner
	schedule cron.Schedule
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(runner SweepRunner, opts Options) (*Scheduler, error) {
	s := &Scheduler{
		runner:   runner,
		interval: opts.Interval,
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	if opts.CronSpec != "" {
		schedule, err := cron.ParseStandard(opts.CronSpec)
		if err != nil {
			return nil, fmt.Errorf("parse sweep schedule %q: %w", opts.CronSpec, err)
		}
		s.schedule = schedule
	} else if opts.Interval <= 0 {
		return nil, fmt.Errorf("scheduler needs a cron spec or a positive interval")
	}

	return s, nil
}

// nextTrigger returns the next sweep time after t.
func (s *Scheduler) nextTrigger(t time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(t)
	}
	return t.Add(s.interval)
}

// Start launches the sweep loop in the background. It returns immediately;
// call Stop (or cancel ctx) to shut the loop down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.loop(ctx)

	slog.InfoContext(ctx, "Sweep scheduler started",
		"next_run", s.nextTrigger(s.now()).Format(time.RFC3339))
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(time.Until(s.nextTrigger(s.now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweep scheduler stopped", "reason", ctx.Err())
			return
		case <-timer.C:
			if _, err := s.runner.RunSweep(ctx); err != nil {
				// Per-template failures are already handled inside the
				// sweep; this is the sweep itself failing to start.
				slog.ErrorContext(ctx, "Sweep failed", "error", err)
			}
			next := s.nextTrigger(s.now())
			timer.Reset(time.Until(next))
			slog.InfoContext(ctx, "Next sweep scheduled", "next_run", next.Format(time.RFC3339))
		}
	}
}
