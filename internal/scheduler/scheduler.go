// Package scheduler runs the reconciliation jobs on their intervals. The
// expiration reaper runs often because expired accounts should not linger;
// device jobs run rarely because they list every device on every server.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/streampanel/streampanel/internal/reconcile"
)

// Intervals configures how often each job fires.
type Intervals struct {
	Reaper time.Duration
	Limits time.Duration
	Status time.Duration
	Orphan time.Duration
}

// DefaultIntervals matches the production cadence: reap every 15 minutes,
// enforce limits every 3 hours, report status every 5 hours, sweep orphans
// every 12 hours.
func DefaultIntervals() Intervals {
	return Intervals{
		Reaper: 15 * time.Minute,
		Limits: 3 * time.Hour,
		Status: 5 * time.Hour,
		Orphan: 12 * time.Hour,
	}
}

// Scheduler drives the engine's jobs on cron schedules.
type Scheduler struct {
	cron      *cron.Cron
	engine    *reconcile.Engine
	intervals Intervals
	log       *logrus.Logger
}

func New(engine *reconcile.Engine, intervals Intervals, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		cron:      cron.New(),
		engine:    engine,
		intervals: intervals,
		log:       log,
	}
}

// Start registers all jobs and starts the cron loop. Fast jobs also get a
// staggered first run shortly after startup so a freshly restarted panel
// catches up without waiting a full interval.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		interval time.Duration
		firstRun time.Duration
		run      func(context.Context) error
	}{
		{"expired-account-reaper", s.intervals.Reaper, 10 * time.Second, func(ctx context.Context) error {
			_, err := s.engine.ReapExpiredAccounts(ctx)
			return err
		}},
		{"device-limit-enforcer", s.intervals.Limits, 2 * time.Minute, func(ctx context.Context) error {
			_, err := s.engine.EnforceDeviceLimits(ctx)
			return err
		}},
		{"status-reporter", s.intervals.Status, 5 * time.Minute, func(ctx context.Context) error {
			_, err := s.engine.SendStatusReport(ctx)
			return err
		}},
		{"orphan-device-cleaner", s.intervals.Orphan, 0, func(ctx context.Context) error {
			_, err := s.engine.CleanOrphanedDevices(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		job := job
		spec := fmt.Sprintf("@every %s", job.interval)
		if _, err := s.cron.AddFunc(spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		if job.firstRun > 0 {
			go func() {
				time.Sleep(job.firstRun)
				s.runJob(job.name, job.run)
			}()
		}
	}

	s.cron.Start()
	s.log.Info("scheduler started")
	return nil
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) {
	start := time.Now()
	s.log.Infof("running scheduled job %s", name)
	if err := run(context.Background()); err != nil {
		s.log.Errorf("scheduled job %s failed: %v", name, err)
		return
	}
	s.log.Infof("scheduled job %s finished in %s", name, time.Since(start))
}

// Stop stops the cron loop. Jobs already running finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}
