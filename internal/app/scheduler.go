/**
 * @description
 * Cron scheduler wrapping the billing orchestrator for daemon deployments.
 * One-shot (scheduled-task) deployments bypass this and call Run directly.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the billing batch on a cron schedule.
type Scheduler struct {
	cron         *cron.Cron
	orchestrator *Orchestrator
	logger       *slog.Logger
	schedule     string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(orchestrator *Orchestrator, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:         c,
		orchestrator: orchestrator,
		logger:       logger,
		schedule:     schedule,
	}
}

// Start registers the billing job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.orchestrator.Run(context.Background()); err != nil {
			s.logger.Error("billing batch run failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("scheduled billing batch", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler. The returned context is done once
// any in-flight batch run has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
