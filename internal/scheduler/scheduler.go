// Package scheduler triggers monitoring cycles on a fixed cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/listing"
)

// Runner is the cycle entry point the scheduler drives.
type Runner interface {
	RunCycle(ctx context.Context) (listing.CycleStats, error)
}

// Scheduler wraps a cron instance with a single @every job. A tick that
// lands while the previous cycle is still running is skipped; the
// overlap guard in the runner makes that a cheap no-op.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *zap.Logger
}

// New builds a Scheduler around the runner.
func New(runner Runner, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
	}, nil
}

// Start schedules cycles every interval and kicks off an immediate
// first run when immediate is set. ctx bounds every triggered cycle.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, immediate bool) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule cycle: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Duration("interval", interval))

	if immediate {
		go s.tick(ctx)
	}
	return nil
}

// Stop halts the cron loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, listing.ErrCycleRunning):
		s.logger.Debug("previous cycle still running, tick skipped")
	case errors.Is(err, context.Canceled):
	case err != nil:
		s.logger.Error("scheduled cycle failed", zap.Error(err))
	}
}
