package aggregator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/kaptn-insight/internal/metrics"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

// MetricSource yields raw per-member series. A source that cannot honor the
// requested granularity returns its native timestamps instead. Members with
// nothing to report, such as pending pods, yield an empty series; errors are
// reserved for failures of the source itself.
type MetricSource interface {
	Name() string
	FetchRaw(ctx context.Context, scope timeseries.Scope, memberID string, r timeseries.Range) (timeseries.MetricSeries, error)
}

// NoMembersError means the requested scope matched no entities.
type NoMembersError struct {
	Scope  timeseries.Scope
	Target string
}

func (e *NoMembersError) Error() string {
	return fmt.Sprintf("no %s members found for %q", e.Scope, e.Target)
}

// UnsupportedViewError means a view is not modeled for a scope.
type UnsupportedViewError struct {
	Scope timeseries.Scope
	View  string
}

func (e *UnsupportedViewError) Error() string {
	return fmt.Sprintf("%s view is not supported for %s scope", e.View, e.Scope)
}

// Config holds configuration for the aggregation engine
type Config struct {
	// Maximum number of member series fetched in parallel
	FetchConcurrency int `yaml:"fetch_concurrency"`
}

// DefaultConfig returns the default aggregator configuration
func DefaultConfig() Config {
	return Config{
		FetchConcurrency: 8,
	}
}

// Aggregator fetches member series from a source and merges them into
// scope-level series.
type Aggregator struct {
	logger *zap.Logger
	source MetricSource
	config Config
}

// NewAggregator creates a new aggregation engine
func NewAggregator(logger *zap.Logger, source MetricSource, config Config) *Aggregator {
	if config.FetchConcurrency < 1 {
		config.FetchConcurrency = DefaultConfig().FetchConcurrency
	}
	return &Aggregator{
		logger: logger,
		source: source,
		config: config,
	}
}

// Source returns the underlying metric source.
func (a *Aggregator) Source() MetricSource {
	return a.source
}

// FetchMembers retrieves one raw series per member id, preserving order.
// Any member failure fails the whole fetch.
func (a *Aggregator) FetchMembers(ctx context.Context, memberScope timeseries.Scope, ids []string, r timeseries.Range) ([]timeseries.MetricSeries, error) {
	out := make([]timeseries.MetricSeries, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.FetchConcurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			start := time.Now()
			series, err := a.source.FetchRaw(gctx, memberScope, id, r)
			metrics.RecordSourceRequest(a.source.Name(), string(memberScope), time.Since(start), err != nil)
			if err != nil {
				return fmt.Errorf("fetch %s %s: %w", memberScope, id, err)
			}
			series.Scope = memberScope
			series.Key = id
			series.Normalize()
			out[i] = series
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.logger.Debug("Fetched member series",
		zap.String("source", a.source.Name()),
		zap.String("scope", string(memberScope)),
		zap.Int("members", len(ids)),
	)
	return out, nil
}

// AggregateScope fetches the members of one scope target and merges them into
// a series keyed by key. Zero members yields a *NoMembersError.
func (a *Aggregator) AggregateScope(
	ctx context.Context,
	scope timeseries.Scope,
	key string,
	memberScope timeseries.Scope,
	ids []string,
	r timeseries.Range,
) (timeseries.MetricSeries, error) {
	if len(ids) == 0 {
		return timeseries.MetricSeries{}, &NoMembersError{Scope: scope, Target: key}
	}

	members, err := a.FetchMembers(ctx, memberScope, ids, r)
	if err != nil {
		return timeseries.MetricSeries{}, err
	}

	return Aggregate(scope, key, members), nil
}
