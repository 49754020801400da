// Package jobs runs the service's periodic housekeeping on a shared clock.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means no bound beyond shutdown.
	Timeout time.Duration
	// RunOnStart runs the job once before the first tick.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker. A job's runs never overlap:
// ticks that arrive while it is running are dropped.
type Scheduler struct {
	clock   clockwork.Clock
	jobs    []Job
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewScheduler creates a Scheduler. A nil clock uses real time.
func NewScheduler(clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, logger: logger, metrics: metrics}
}

// Add registers a job. It must be called before Run.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job %q: name and run func are required", job.Name)
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", job.Name)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Run blocks until ctx is cancelled and every in-flight run has returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, job)
		}()
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := s.clock.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunOnStart {
		s.runOnce(ctx, job)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := s.clock.Now()
	err := safeRun(runCtx, job)
	elapsed := s.clock.Since(start)
	if err != nil {
		s.logger.Error("job failed", "job", job.Name, "duration", elapsed, "error", err)
		s.metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
		return
	}
	s.logger.Debug("job finished", "job", job.Name, "duration", elapsed)
	s.metrics.JobRuns.WithLabelValues(job.Name, "success").Inc()
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
