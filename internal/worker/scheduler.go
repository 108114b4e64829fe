package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule refreshes at the top of every hour.
const DefaultSchedule = "@hourly"

// Task is a scheduled unit of work.
type Task func(ctx context.Context) error

// SchedulerConfig holds configuration for the cron scheduler.
type SchedulerConfig struct {
	// Timeout bounds each task run.
	// Default: 5 minutes
	Timeout time.Duration

	// Location is the time zone schedules are evaluated in.
	// Default: time.Local
	Location *time.Location

	Logger zerolog.Logger
}

// Scheduler runs tasks on cron schedules. Overlapping runs of the same task are
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	logger := cfg.Logger.With().Str("component", "scheduler").Logger()
	cronLogger := cron.PrintfLogger(&logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers task under a standard five-field cron spec or a
// descriptor such as "@hourly" or "@every 15m". An empty spec means DefaultSchedule.
func (s *Scheduler) Schedule(spec string, name string, task Task) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	id, err := s.cron.AddFunc(spec, s.wrapTask(name, task))
	if err != nil {
		return 0, fmt.Errorf("scheduling %s with %q: %w", name, spec, err)
	}

	s.logger.Info().
		Str("task", name).
		Str("spec", spec).
		Int("entry_id", int(id)).
		Msg("task scheduled")

	return id, nil
}

// Next returns the next activation time of an entry, or the zero time if the
// scheduler is not running or the entry is unknown.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Start runs the scheduler in the background. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info().Int("entries", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) wrapTask(name string, task Task) func() {
	return func() {
		startTime := time.Now()
		logger := s.logger.With().Str("task", name).Logger()
		logger.Debug().Msg("starting scheduled task")

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		if err := task(ctx); err != nil {
			logger.Error().Err(err).Dur("duration", time.Since(startTime)).Msg("scheduled task failed")
			return
		}

		logger.Debug().Dur("duration", time.Since(startTime)).Msg("scheduled task completed")
	}
}

// ScheduleRefresh runs job on spec. A run that fails to acquire current
// conditions is reported as a task failure. The job's running totals are
// logged after every run.
func (s *Scheduler) ScheduleRefresh(spec string, job *RefreshJob) (cron.EntryID, error) {
	return s.Schedule(spec, "weather_refresh", func(ctx context.Context) error {
		result := job.Run(ctx)
		s.logger.Debug().Fields(job.MetricsSnapshot()).Msg("refresh totals")
		if !result.OK() {
			return result.Err
		}
		return nil
	})
}
