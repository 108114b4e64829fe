package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/internal/weather"
)

// Acquirer is the acquisition API the refresh job drives.
type Acquirer interface {
	RequestWeather(ctx context.Context, budget time.Duration) (weather.Snapshot, error)
	RequestForecast(ctx context.Context, budget time.Duration) (weather.DailyForecast, error)
}

// Invalidator is implemented by acquirers whose cache can be dropped before a
// forced refresh.
type Invalidator interface {
	InvalidateCache()
}

// Sink receives the result of every refresh run.
type Sink interface {
	Deliver(result *RefreshResult)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(result *RefreshResult)

// Deliver calls f(result).
func (f SinkFunc) Deliver(result *RefreshResult) { f(result) }

// RefreshJob acquires weather for the current position and hands the result to
// a Sink. Unlike the acquisition core it retries transient failures with
// exponential backoff.
type RefreshJob struct {
	config   RefreshConfig
	acquirer Acquirer
	sink     Sink
	logger   zerolog.Logger

	mu     sync.Mutex
	latest *RefreshResult

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalRefreshes      int64
	SuccessfulRefreshes int64
	FailedRefreshes     int64
	Retries             int64

	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config   RefreshConfig
	Acquirer Acquirer
	Sink     Sink
	Logger   zerolog.Logger
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	return &RefreshJob{
		config:   cfg.Config.withDefaults(),
		acquirer: cfg.Acquirer,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
		metrics:  &RefreshMetrics{},
	}
}

// RefreshResult contains the result of one refresh run.
type RefreshResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Attempts  int

	// Snapshot is set when Err is nil.
	Snapshot weather.Snapshot
	Err      error

	// Forecast is set when the forecast was requested and ForecastErr is nil.
	Forecast    *weather.DailyForecast
	ForecastErr error
}

// OK reports whether current conditions were acquired.
func (r *RefreshResult) OK() bool {
	return r.Err == nil
}

// Run performs one refresh and delivers the result to the sink.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	startTime := time.Now()
	result := &RefreshResult{StartTime: startTime}

	j.logger.Info().
		Uint64("max_attempts", j.config.MaxAttempts).
		Msg("starting weather refresh")

	result.Snapshot, result.Attempts, result.Err = j.acquireWeather(ctx)

	if result.Err == nil && j.config.IncludeForecast {
		daily, err := j.acquirer.RequestForecast(ctx, j.config.Timeout)
		if err != nil {
			result.ForecastErr = err
			j.logger.Warn().Err(err).Msg("forecast refresh failed")
		} else {
			result.Forecast = &daily
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)
	if result.OK() {
		j.mu.Lock()
		j.latest = result
		j.mu.Unlock()
	}

	event := j.logger.Info()
	if !result.OK() {
		event = j.logger.Warn().Err(result.Err).Str("kind", fault.KindOf(result.Err).String())
	}
	event.
		Dur("duration", result.Duration).
		Int("attempts", result.Attempts).
		Bool("forecast", result.Forecast != nil).
		Msg("weather refresh completed")

	if j.sink != nil {
		j.sink.Deliver(result)
	}

	return result
}

// ForceRun drops cached data, when the acquirer supports it, and runs a refresh.
func (j *RefreshJob) ForceRun(ctx context.Context) *RefreshResult {
	if inv, ok := j.acquirer.(Invalidator); ok {
		inv.InvalidateCache()
	}
	return j.Run(ctx)
}

func (j *RefreshJob) acquireWeather(ctx context.Context) (weather.Snapshot, int, error) {
	var snap weather.Snapshot
	attempts := 0

	operation := func() error {
		attempts++
		s, err := j.acquirer.RequestWeather(ctx, j.config.Timeout)
		if err != nil {
			if !fault.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		snap = s
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = j.config.InitialInterval
	b.MaxInterval = j.config.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, j.config.MaxAttempts-1), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		j.metrics.mu.Lock()
		j.metrics.Retries++
		j.metrics.mu.Unlock()

		j.logger.Debug().Err(err).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("retrying weather acquisition")
	})

	return snap, attempts, err
}

// Latest returns the most recent successful result, or nil.
func (j *RefreshJob) Latest() *RefreshResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latest
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	if result.OK() {
		j.metrics.SuccessfulRefreshes++
	} else {
		j.metrics.FailedRefreshes++
	}
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SuccessfulRefreshes: j.metrics.SuccessfulRefreshes,
		FailedRefreshes:     j.metrics.FailedRefreshes,
		Retries:             j.metrics.Retries,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()

	avgDuration := time.Duration(0)
	if m.TotalRefreshes > 0 {
		avgDuration = m.TotalDuration / time.Duration(m.TotalRefreshes)
	}

	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefreshes,
		"failed_refreshes":      m.FailedRefreshes,
		"retries":               m.Retries,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"avg_refresh_duration":  avgDuration.String(),
	}
}
