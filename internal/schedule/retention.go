package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/metrics"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

// SettingsStore supplies retention horizons.
type SettingsStore interface {
	GetRetention(ctx context.Context) (RetentionSettings, error)
}

// SampleDeleter removes stored samples of one tier older than a cutoff.
type SampleDeleter interface {
	DeleteBefore(ctx context.Context, g timeseries.Granularity, cutoff time.Time) (int64, error)
}

// SweepResult reports what a retention pass removed.
type SweepResult struct {
	Thresholds Thresholds                       `json:"thresholds"`
	Deleted    map[timeseries.Granularity]int64 `json:"deleted"`
}

// Sweeper expires samples past their tier's retention horizon.
type Sweeper struct {
	logger   *zap.Logger
	settings SettingsStore
	samples  SampleDeleter
	now      func() time.Time
}

// NewSweeper creates a retention sweeper.
func NewSweeper(logger *zap.Logger, settings SettingsStore, samples SampleDeleter) *Sweeper {
	return &Sweeper{
		logger:   logger,
		settings: settings,
		samples:  samples,
		now:      time.Now,
	}
}

// Sweep deletes expired minute, hour and day samples. It stops at the first
// failing tier.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	settings, err := s.settings.GetRetention(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to read retention settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return SweepResult{}, fmt.Errorf("invalid retention settings: %w", err)
	}

	th := RetentionThresholds(s.now(), settings)
	res := SweepResult{
		Thresholds: th,
		Deleted:    make(map[timeseries.Granularity]int64, 3),
	}

	tiers := []struct {
		g      timeseries.Granularity
		cutoff time.Time
	}{
		{timeseries.Minute, th.MinuteBefore},
		{timeseries.Hour, th.HourBefore},
		{timeseries.Day, th.DayBefore},
	}

	for _, tier := range tiers {
		n, err := s.samples.DeleteBefore(ctx, tier.g, tier.cutoff)
		if err != nil {
			return res, fmt.Errorf("failed to expire %s samples: %w", tier.g, err)
		}
		res.Deleted[tier.g] = n
		metrics.RecordRetentionDeleted(string(tier.g), n)
	}

	s.logger.Info("Retention sweep completed",
		zap.Time("minuteBefore", th.MinuteBefore),
		zap.Time("hourBefore", th.HourBefore),
		zap.Time("dayBefore", th.DayBefore),
		zap.Int64("minuteDeleted", res.Deleted[timeseries.Minute]),
		zap.Int64("hourDeleted", res.Deleted[timeseries.Hour]),
		zap.Int64("dayDeleted", res.Deleted[timeseries.Day]),
	)
	return res, nil
}
