// Package app wires every long-lived component once at startup.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/config"
	"github.com/aaronlmathis/kaptn-insight/internal/cost"
	"github.com/aaronlmathis/kaptn-insight/internal/k8s/client"
	kubemetrics "github.com/aaronlmathis/kaptn-insight/internal/kube/metrics"
	"github.com/aaronlmathis/kaptn-insight/internal/promsource"
	"github.com/aaronlmathis/kaptn-insight/internal/runtimestate"
	"github.com/aaronlmathis/kaptn-insight/internal/schedule"
	"github.com/aaronlmathis/kaptn-insight/internal/service"
	"github.com/aaronlmathis/kaptn-insight/internal/store"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries/aggregator"
	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

// Services holds the application's components. It is built once and passed
// explicitly; nothing in the module reaches for globals.
type Services struct {
	Logger      *zap.Logger
	Config      *config.Config
	State       *runtimestate.State
	Coordinator *runtimestate.Coordinator
	Store       *store.Store
	Source      aggregator.MetricSource
	Metrics     *service.Service
	Scheduler   *schedule.Scheduler
	Sweeper     *schedule.Sweeper

	cancel context.CancelFunc
}

// Build creates the Kubernetes clients, opens the sample store and wires the
// metric source selected by cfg.Source.Kind.
func Build(logger *zap.Logger, cfg *config.Config) (*Services, error) {
	factory, err := client.NewFactory(logger, cfg.Kubernetes)
	if err != nil {
		return nil, err
	}

	retention := schedule.RetentionSettings{
		MinuteRetentionDays: cfg.Retention.MinuteRetentionDays,
		HourRetentionMonths: cfg.Retention.HourRetentionMonths,
		DayRetentionYears:   cfg.Retention.DayRetentionYears,
	}
	st, err := store.Open(logger, cfg.Storage.SQLitePath, retention)
	if err != nil {
		return nil, err
	}

	state := runtimestate.NewState(config.Duration(cfg.Runtime.Staleness, 3*time.Hour))
	coordinator := runtimestate.NewCoordinator(logger, state, topology.NewKubeSource(logger, factory.Client()), runtimestate.Config{
		ProbeTimeout: config.Duration(cfg.Runtime.ProbeTimeout, 5*time.Second),
		FetchTimeout: config.Duration(cfg.Runtime.FetchTimeout, time.Minute),
		Interval:     config.Duration(cfg.Runtime.ResyncInterval, 30*time.Minute),
		Cooldown:     config.Duration(cfg.Runtime.ResyncCooldown, 0),
	})

	source, err := newSource(logger, cfg, factory, state, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	s, err := Assemble(logger, cfg, state, coordinator, st, source)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return s, nil
}

// Assemble builds the services that sit on top of the state, store and
// source. Tests use it with fakes in place of a cluster.
func Assemble(
	logger *zap.Logger,
	cfg *config.Config,
	state *runtimestate.State,
	coordinator *runtimestate.Coordinator,
	st *store.Store,
	source aggregator.MetricSource,
) (*Services, error) {
	agg := aggregator.NewAggregator(logger, source, aggregator.Config{
		FetchConcurrency: cfg.Source.FetchConcurrency,
	})

	svcConfig := service.DefaultConfig()
	svcConfig.CacheTTL = config.Duration(cfg.Server.ViewCacheTTL, svcConfig.CacheTTL)
	metricService := service.New(logger, state, agg, st, svcConfig)

	sweeper := schedule.NewSweeper(logger, st, st)
	schedConfig := schedule.DefaultConfig()
	schedConfig.Enabled = cfg.Scheduler.Enabled
	schedConfig.HourlySpec = cfg.Scheduler.HourlySpec
	schedConfig.DailySpec = cfg.Scheduler.DailySpec
	scheduler, err := schedule.NewScheduler(logger, st, sweeper, schedConfig)
	if err != nil {
		return nil, err
	}

	return &Services{
		Logger:      logger,
		Config:      cfg,
		State:       state,
		Coordinator: coordinator,
		Store:       st,
		Source:      source,
		Metrics:     metricService,
		Scheduler:   scheduler,
		Sweeper:     sweeper,
	}, nil
}

func newSource(logger *zap.Logger, cfg *config.Config, factory *client.Factory, state *runtimestate.State, st *store.Store) (aggregator.MetricSource, error) {
	switch cfg.Source.Kind {
	case config.SourceStore:
		return st, nil

	case config.SourcePrometheus:
		return promsource.New(logger, promsource.Config{
			URL:         cfg.Source.PrometheusURL,
			Timeout:     config.Duration(cfg.Source.PrometheusTimeout, 30*time.Second),
			QPS:         cfg.Source.PrometheusQPS,
			Concurrency: cfg.Source.FetchConcurrency,
		}, state, nil)

	case config.SourceMetricsAPI:
		return kubemetrics.NewMetricsAPISource(logger, factory.Client().Discovery(), factory.MetricsClient().MetricsV1beta1(), state), nil

	case config.SourceKubelet:
		summaries, err := kubemetrics.NewSummaryClient(logger, factory.Config(), cfg.Source.KubeletInsecureTLS, config.Duration(cfg.Source.PrometheusTimeout, 30*time.Second))
		if err != nil {
			return nil, err
		}
		return kubemetrics.NewKubeletSource(logger, summaries, state, config.Duration(cfg.Source.KubeletCacheTTL, 15*time.Second)), nil

	default:
		return nil, fmt.Errorf("unknown metric source kind %q", cfg.Source.Kind)
	}
}

// Start seeds default prices, then starts the resync loop (which runs the
// first resync immediately), the scheduler and the view cache janitor.
func (s *Services) Start(ctx context.Context) error {
	if s.Config.Pricing.Seed {
		seed := cost.UnitPriceTable{
			CPUCoreHour:     s.Config.Pricing.CPUCoreHour,
			MemoryGBHour:    s.Config.Pricing.MemoryGBHour,
			StorageGBHour:   s.Config.Pricing.StorageGBHour,
			NetworkEgressGB: s.Config.Pricing.NetworkEgressGB,
		}
		if err := s.Store.SeedPrices(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed unit prices: %w", err)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.Logger.Info("Starting services",
		zap.String("source", s.Source.Name()),
		zap.Bool("scheduler", s.Config.Scheduler.Enabled),
	)

	s.Coordinator.Start(ctx)
	s.Scheduler.Start()
	go s.Metrics.Cache().Run(ctx, time.Minute)
	return nil
}

// Stop halts background work and closes the store.
func (s *Services) Stop(ctx context.Context) {
	s.Logger.Info("Stopping services")

	if s.cancel != nil {
		s.cancel()
	}
	s.Coordinator.Stop()
	s.Scheduler.Stop(ctx)
	if err := s.Store.Close(); err != nil {
		s.Logger.Warn("Failed to close sample store", zap.Error(err))
	}
}
