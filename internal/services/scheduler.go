package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"piggybank/internal/core"
	"piggybank/internal/log"

	"github.com/robfig/cron/v3"
)

// Reconciler is the part of Bank the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]core.Deposit, error)
}

// Scheduler runs a reconciliation pass on a cron schedule so deposits mature
// even when nobody reads the balance.
type Scheduler struct {
	cron     *cron.Cron
	bank     Reconciler
	schedule string
	timeout  time.Duration
	logger   *log.Logger
}

func NewScheduler(bank Reconciler, schedule string, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentScheduler)
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		bank:     bank,
		schedule: schedule,
		timeout:  30 * time.Second,
		logger:   logger,
	}
}

// Start registers the maturity job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("schedule maturity job %q: %w", s.schedule, err)
	}
	s.logger.Info("Scheduled maturity job", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// RunOnce performs one reconciliation pass.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	matured, err := s.bank.Reconcile(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled reconciliation failed", log.FieldError, err)
		return
	}
	if len(matured) > 0 {
		s.logger.InfoContext(ctx, "Scheduled reconciliation credited deposits", log.FieldMatured, len(matured))
	}
}

// Stop stops the cron loop; the returned context is done once a running
// job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
