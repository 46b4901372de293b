// Package scheduler wires up the cron job that periodically runs every
// enabled job, and the manual run-all / run-one triggers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobmate/listing-service/internal/config"
	"jobmate/listing-service/internal/events"
	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/metrics"
	"jobmate/listing-service/internal/model"
	"jobmate/listing-service/internal/pipeline"
	"jobmate/listing-service/internal/runstate"
)

var (
	ErrAlreadyRunning = errors.New("job is already running")
	ErrJobNotFound    = errors.New("job not found")
	ErrReadOnly       = errors.New("service is in read-only mode")
)

// Trigger labels for the runs counter.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// JobSource reads job definitions and the administrator list.
type JobSource interface {
	EnabledJobs(ctx context.Context) ([]model.Job, error)
	JobByID(ctx context.Context, id string) (model.Job, error)
	Admins(ctx context.Context) ([]string, error)
}

// Executor runs one job across all of its providers.
type Executor interface {
	Execute(ctx context.Context, job model.Job) pipeline.Result
}

// StatusNotifier receives run start/finish events.
type StatusNotifier interface {
	Publish(ctx context.Context, ev model.StatusEvent, recipients []string)
}

// Options tune a Scheduler. Zero values mean: timer disabled, no working
// hours window, writes allowed.
type Options struct {
	Interval     time.Duration
	WorkingHours config.WorkingHours
	ReadOnly     bool
	Now          func() time.Time
}

// Scheduler wraps robfig/cron and guards every run with the run-state
// registry so a job never has two fan-outs in flight.
type Scheduler struct {
	cron    *cron.Cron
	jobs    JobSource
	exec    Executor
	runs    *runstate.Registry
	status  StatusNotifier
	metrics *metrics.Metrics
	log     logger.Logger
	opts    Options

	wg sync.WaitGroup
}

// New creates a Scheduler. runs is shared with anything else that needs to
// know which jobs are in flight.
func New(
	jobs JobSource,
	exec Executor,
	runs *runstate.Registry,
	status StatusNotifier,
	m *metrics.Metrics,
	log logger.Logger,
	opts Options,
) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		cron:    cron.New(),
		jobs:    jobs,
		exec:    exec,
		runs:    runs,
		status:  status,
		metrics: m,
		log:     log.With(logger.String("component", "scheduler")),
		opts:    opts,
	}
}

// Start registers the periodic tick and starts the scheduler. Also runs one
// tick immediately so new listings show up without waiting a full interval.
// A zero interval disables the timer; manual triggers still work.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		s.log.Info("Job timer disabled")
		return nil
	}

	spec := fmt.Sprintf("@every %s", s.opts.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.log.Info("Cron started",
		logger.String("spec", spec),
		logger.String("working_hours", s.opts.WorkingHours.String()),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(ctx)
	}()
	return nil
}

// Stop stops the timer and waits for runs already in flight to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("Cron stopped")
}

// Wait blocks until every started run has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) tick(ctx context.Context) {
	if now := s.opts.Now(); !s.opts.WorkingHours.Contains(now) {
		s.log.Info("Outside working hours, skipping scheduled run",
			logger.String("working_hours", s.opts.WorkingHours.String()),
			logger.Time("now", now),
		)
		s.metrics.Rejected.WithLabelValues("outside_hours").Inc()
		return
	}

	started, err := s.runAll(ctx, nil, TriggerScheduled)
	if err != nil {
		s.log.Error("Scheduled run failed", logger.Error(err))
		return
	}
	s.log.Info("Scheduled run dispatched", logger.Strings("job_ids", started))
}

// RunAll starts every enabled job visible to scope: all of them for an
// admin or a nil scope, only the user's own otherwise. Jobs already
// running are skipped. It returns the ids of the runs it started.
func (s *Scheduler) RunAll(ctx context.Context, scope *model.User) ([]string, error) {
	return s.runAll(ctx, scope, TriggerManual)
}

func (s *Scheduler) runAll(ctx context.Context, scope *model.User, trigger string) ([]string, error) {
	if s.opts.ReadOnly {
		s.metrics.Rejected.WithLabelValues("read_only").Inc()
		return nil, ErrReadOnly
	}

	jobs, err := s.jobs.EnabledJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enabled jobs: %w", err)
	}

	var started []string
	for _, job := range jobs {
		if scope != nil && !scope.Admin && job.OwnerUserID != scope.ID {
			continue
		}
		if err := s.launch(ctx, job, trigger); err != nil {
			continue
		}
		started = append(started, job.ID)
	}
	return started, nil
}

// RunOne force-runs a single job, ignoring its enabled flag and the
// working-hours window.
func (s *Scheduler) RunOne(ctx context.Context, jobID string) error {
	if s.opts.ReadOnly {
		s.metrics.Rejected.WithLabelValues("read_only").Inc()
		return ErrReadOnly
	}

	job, err := s.jobs.JobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return err
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	return s.launch(ctx, job, TriggerManual)
}

// launch claims the job in the run-state registry and runs it in the
// background. A claim that fails has no side effects beyond a log line.
func (s *Scheduler) launch(ctx context.Context, job model.Job, trigger string) error {
	if !s.runs.MarkRunning(job.ID) {
		s.log.Info("Job already running, rejecting",
			logger.String("job_id", job.ID),
			logger.String("trigger", trigger),
		)
		s.metrics.Rejected.WithLabelValues("already_running").Inc()
		return ErrAlreadyRunning
	}

	s.metrics.Runs.WithLabelValues(trigger).Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.runs.MarkFinished(job.ID)
		s.run(ctx, job, trigger)
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context, job model.Job, trigger string) {
	log := s.log.With(logger.String("job_id", job.ID), logger.String("trigger", trigger))

	admins, err := s.jobs.Admins(ctx)
	if err != nil {
		log.Warn("Failed to load admins for status events", logger.Error(err))
	}
	recipients := events.Recipients(job, admins)

	s.status.Publish(ctx, model.StatusEvent{JobID: job.ID, Running: true}, recipients)
	defer s.status.Publish(ctx, model.StatusEvent{JobID: job.ID, Running: false}, recipients)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job run panicked", logger.Any("panic", r))
		}
	}()

	start := time.Now()
	res := s.exec.Execute(ctx, job)

	log.Info("Job run finished",
		logger.String("run_id", res.RunID),
		logger.Int("new_listings", res.NewCount()),
		logger.Int("failures", len(res.Failures)),
		logger.Duration("elapsed", time.Since(start)),
	)
}
