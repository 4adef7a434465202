/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *logrus.Entry
	schedule string
}

// NewScheduler creates a new scheduler instance. Overlapping runs are skipped.
func NewScheduler(jobs *Jobs, logger *logrus.Logger, repaymentSchedule string) *Scheduler {
	entry := logger.WithField("component", "scheduler")
	cronLogger := cron.PrintfLogger(entry)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   entry,
		schedule: repaymentSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.RunLoanRepayments); err != nil {
		s.logger.WithError(err).Error("failed to schedule loan repayment job")
		return err
	}
	s.logger.WithField("schedule", s.schedule).Info("scheduled loan repayment job")

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
