package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"networth-api/internal/services"
)

// DailyRunner is the job the scheduler fires.
type DailyRunner interface {
	RunDaily(ctx context.Context, workers int) (*services.DailyReport, error)
}

// Config represents scheduler configuration
type Config struct {
	Spec       string // standard 5-field cron expression
	Location   *time.Location
	Workers    int
	JobTimeout time.Duration
}

// Scheduler drives the daily snapshot run. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  DailyRunner
	config  Config
	logger  *logrus.Entry
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(runner DailyRunner, config Config, logger *logrus.Logger) (*Scheduler, error) {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	log := logger.WithField("component", "scheduler")
	cronLogger := cron.PrintfLogger(log)

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runner: runner,
		config: config,
		logger: log,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	id, err := s.cron.AddFunc(config.Spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", config.Spec, err)
	}
	s.entryID = id

	return s, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"spec":     s.config.Spec,
		"timezone": s.config.Location.String(),
		"next_run": s.NextRun().Format(time.RFC3339),
	}).Info("Scheduler started")
	return nil
}

// Stop halts the schedule, cancels a running job and waits for it to return.
func (s *Scheduler) Stop() error {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

// NextRun reports when the daily job fires next.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// RunOnce executes the daily job synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (*services.DailyReport, error) {
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}
	return s.runner.RunDaily(ctx, s.config.Workers)
}

func (s *Scheduler) run() {
	report, err := s.RunOnce(s.ctx)
	if err != nil {
		s.logger.WithError(err).Error("Daily snapshot run failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"run_id":   report.RunID,
		"users":    report.Users,
		"failed":   report.Failed,
		"duration": report.Duration.String(),
	}).Info("Daily snapshot run completed")
}
