package runtimestate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/metrics"
	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

// TopologySource lists the cluster objects a snapshot is built from.
type TopologySource interface {
	Probe(ctx context.Context) error
	Fetch(ctx context.Context) (*topology.Inventory, error)
}

// Config holds configuration for the resync coordinator
type Config struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// Interval between periodic resyncs; zero disables the loop.
	Interval time.Duration `yaml:"interval"`
	// Cooldown keeps the in-flight flag set after a run finishes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		ProbeTimeout: 5 * time.Second,
		FetchTimeout: 60 * time.Second,
		Interval:     30 * time.Minute,
		Cooldown:     0,
	}
}

// Coordinator refreshes State from the cluster with at most one run in flight.
type Coordinator struct {
	logger *zap.Logger
	state  *State
	source TopologySource
	config Config

	running  atomic.Bool
	started  atomic.Bool
	inflight sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCoordinator creates a resync coordinator for state
func NewCoordinator(logger *zap.Logger, state *State, source TopologySource, config Config) *Coordinator {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Coordinator{
		logger: logger,
		state:  state,
		source: source,
		config: config,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Resync starts a background refresh unless one is already running. It never
// blocks on cluster I/O.
func (c *Coordinator) Resync() ResyncResult {
	if !c.running.CompareAndSwap(false, true) {
		metrics.RecordResyncRejected()
		return ResyncAlreadyRunning
	}

	c.inflight.Add(1)
	go c.run(uuid.NewString())
	return ResyncStarted
}

// Running reports whether a resync is in flight.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Status returns freshness and error metadata plus the in-flight flag.
func (c *Coordinator) Status() Status {
	st := c.state.status()
	st.ResyncRunning = c.running.Load()
	return st
}

// Wait blocks until no resync is in flight.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// run performs one resync. It is detached from any request context and is
// never cancelled once started.
func (c *Coordinator) run(runID string) {
	defer c.inflight.Done()
	defer c.release()

	logger := c.logger.With(zap.String("runID", runID))
	start := time.Now()
	logger.Info("Topology resync started")

	if err := c.probe(); err != nil {
		unreachable := &ClusterUnreachableError{Err: err}
		c.state.markError(unreachable, c.state.now())
		metrics.RecordResync("unreachable", time.Since(start))
		logger.Warn("Topology resync aborted, keeping previous snapshot", zap.Error(unreachable))
		return
	}

	fetchCtx, cancel := context.WithTimeout(context.Background(), c.config.FetchTimeout)
	inv, err := c.source.Fetch(fetchCtx)
	cancel()
	if err != nil {
		c.state.markError(fmt.Errorf("topology fetch failed: %w", err), c.state.now())
		metrics.RecordResync("fetch_failed", time.Since(start))
		logger.Error("Topology resync failed, keeping previous snapshot", zap.Error(err))
		return
	}

	snap := topology.NewSnapshot(*inv)
	discoveredAt := c.state.now()
	c.state.publish(snap, discoveredAt)

	metrics.RecordResync("success", time.Since(start))
	metrics.UpdateSnapshotMetrics(len(snap.Nodes()), len(snap.Namespaces()), len(snap.Deployments()), snap.PodCount(), discoveredAt)
	logger.Info("Topology resync completed",
		zap.Int("nodes", len(snap.Nodes())),
		zap.Int("namespaces", len(snap.Namespaces())),
		zap.Int("deployments", len(snap.Deployments())),
		zap.Int("pods", snap.PodCount()),
		zap.Duration("duration", time.Since(start)),
	)
}

// probe bounds the reachability check even if the source ignores its context.
func (c *Coordinator) probe() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ProbeTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- c.source.Probe(ctx) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("probe timed out after %s: %w", c.config.ProbeTimeout, ctx.Err())
	}
}

func (c *Coordinator) release() {
	if c.config.Cooldown > 0 {
		timer := time.NewTimer(c.config.Cooldown)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
		}
	}
	c.running.Store(false)
}

// Start triggers an initial resync and then one every Interval.
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info("Starting topology resync loop",
		zap.Duration("interval", c.config.Interval),
		zap.Duration("probeTimeout", c.config.ProbeTimeout),
		zap.Duration("cooldown", c.config.Cooldown),
	)
	c.started.Store(true)

	c.Resync()

	if c.config.Interval <= 0 {
		close(c.done)
		return
	}
	go c.loop(ctx)
}

// Stop ends the periodic loop and waits for an in-flight run to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.started.Load() {
		<-c.done
	}
	c.inflight.Wait()
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Resync loop stopped due to context cancellation")
			return
		case <-c.stopCh:
			c.logger.Info("Resync loop stopped gracefully")
			return
		case <-ticker.C:
			if c.Resync() == ResyncAlreadyRunning {
				c.logger.Debug("Periodic resync skipped, run already in flight")
			}
		}
	}
}
