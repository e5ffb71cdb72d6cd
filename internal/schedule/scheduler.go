package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/metrics"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

const (
	JobHourlyRollup = "hourly_rollup"
	JobDailyRollup  = "daily_rollup"
	JobRetention    = "retention"
)

// RollupStore downsamples one tier of stored samples into the next.
type RollupStore interface {
	RollUp(ctx context.Context, from, to timeseries.Granularity, w Window) (int64, error)
}

// Config holds the cron specs for the periodic jobs.
type Config struct {
	Enabled    bool
	HourlySpec string
	DailySpec  string
	// Upper bound on one job run
	JobTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		HourlySpec: "1 * * * *",
		DailySpec:  "5 0 * * *",
		JobTimeout: 10 * time.Minute,
	}
}

// Scheduler runs the hourly rollup and the daily rollup plus retention sweep.
type Scheduler struct {
	logger  *zap.Logger
	cron    *cron.Cron
	store   RollupStore
	sweeper *Sweeper
	config  Config
	now     func() time.Time
}

// NewScheduler validates the cron specs and registers both jobs. Jobs do not
// fire until Start.
func NewScheduler(logger *zap.Logger, store RollupStore, sweeper *Sweeper, config Config) (*Scheduler, error) {
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultConfig().JobTimeout
	}

	s := &Scheduler{
		logger:  logger,
		store:   store,
		sweeper: sweeper,
		config:  config,
		now:     time.Now,
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger.Sugar()}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
	)

	if _, err := s.cron.AddFunc(config.HourlySpec, s.hourlyJob); err != nil {
		return nil, fmt.Errorf("invalid hourly schedule %q: %w", config.HourlySpec, err)
	}
	if _, err := s.cron.AddFunc(config.DailySpec, s.dailyJob); err != nil {
		return nil, fmt.Errorf("invalid daily schedule %q: %w", config.DailySpec, err)
	}
	return s, nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	if !s.config.Enabled {
		s.logger.Info("Scheduler disabled")
		return
	}
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("hourly", s.config.HourlySpec),
		zap.String("daily", s.config.DailySpec),
	)
}

// Stop stops the cron loop and waits for running jobs or ctx expiry.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) hourlyJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()
	_ = s.RunHourly(ctx)
}

func (s *Scheduler) dailyJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()
	_ = s.RunDaily(ctx)
}

// RunHourly rolls minute samples of the previous hour into one hour sample
// per member.
func (s *Scheduler) RunHourly(ctx context.Context) error {
	w := PreviousHourWindow(s.now())
	return s.runRollup(ctx, JobHourlyRollup, timeseries.Minute, timeseries.Hour, w)
}

// RunDaily rolls hour samples of the previous day into day samples, then
// sweeps expired data. The sweep runs even if the rollup failed.
func (s *Scheduler) RunDaily(ctx context.Context) error {
	w := PreviousDayWindow(s.now())
	rollupErr := s.runRollup(ctx, JobDailyRollup, timeseries.Hour, timeseries.Day, w)

	runID := uuid.New().String()
	start := time.Now()
	_, err := s.sweeper.Sweep(ctx)
	metrics.RecordJob(JobRetention, jobStatus(err), time.Since(start))
	if err != nil {
		s.logger.Error("Retention sweep failed", zap.String("runId", runID), zap.Error(err))
		return err
	}
	return rollupErr
}

func (s *Scheduler) runRollup(ctx context.Context, job string, from, to timeseries.Granularity, w Window) error {
	runID := uuid.New().String()
	start := time.Now()

	rows, err := s.store.RollUp(ctx, from, to, w)
	metrics.RecordJob(job, jobStatus(err), time.Since(start))
	if err != nil {
		s.logger.Error("Rollup failed",
			zap.String("job", job),
			zap.String("runId", runID),
			zap.Time("windowStart", w.Start),
			zap.Time("windowEnd", w.End),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", job, err)
	}

	s.logger.Info("Rollup completed",
		zap.String("job", job),
		zap.String("runId", runID),
		zap.Time("windowStart", w.Start),
		zap.Time("windowEnd", w.End),
		zap.Int64("rows", rows),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func jobStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
