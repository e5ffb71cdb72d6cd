// Package runtimestate holds the live topology snapshot and the coordinator
// that refreshes it.
package runtimestate

import (
	"sync"
	"time"

	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

// DefaultStaleness is how long a snapshot may be served after its last
// successful discovery.
const DefaultStaleness = 3 * time.Hour

// State owns the current snapshot plus freshness and error metadata.
// Readers take the read lock; only the coordinator writes.
type State struct {
	mu               sync.RWMutex
	snapshot         *topology.Snapshot
	lastDiscoveredAt *time.Time
	lastErrorAt      *time.Time
	lastErrorMessage *string

	staleness time.Duration
	now       func() time.Time
}

// Option configures a State
type Option func(*State)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// NewState creates an empty, never-discovered state.
func NewState(staleness time.Duration, opts ...Option) *State {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	s := &State{
		snapshot:  topology.Empty(),
		staleness: staleness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Staleness returns the configured freshness threshold.
func (s *State) Staleness() time.Duration {
	return s.staleness
}

// IsFresh reports whether the snapshot was discovered less than the
// staleness threshold ago.
func (s *State) IsFresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freshLocked()
}

func (s *State) freshLocked() bool {
	if s.lastDiscoveredAt == nil {
		return false
	}
	return s.now().Sub(*s.lastDiscoveredAt) < s.staleness
}

// EnsureResynced returns a *StaleStateError when the snapshot must not be served.
func (s *State) EnsureResynced() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.freshLocked() {
		return nil
	}
	return &StaleStateError{
		LastDiscoveredAt: copyTime(s.lastDiscoveredAt),
		Threshold:        s.staleness,
	}
}

// Snapshot returns the current snapshot. Snapshots are immutable, so the
// returned value stays consistent even if a resync swaps in a new one.
func (s *State) Snapshot() *topology.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Current returns the snapshot together with its discovery time. The time is
// zero before the first successful resync.
func (s *State) Current() (*topology.Snapshot, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastDiscoveredAt == nil {
		return s.snapshot, time.Time{}
	}
	return s.snapshot, *s.lastDiscoveredAt
}

// Nodes returns node names from the current snapshot.
func (s *State) Nodes() []string { return s.Snapshot().Nodes() }

// Namespaces returns namespace names from the current snapshot.
func (s *State) Namespaces() []string { return s.Snapshot().Namespaces() }

// Deployments returns deployment names from the current snapshot.
func (s *State) Deployments() []string { return s.Snapshot().Deployments() }

// PodsByNamespace returns pod uids in a namespace.
func (s *State) PodsByNamespace(ns string) []string { return s.Snapshot().PodsByNamespace(ns) }

// PodsByNode returns pod uids scheduled on a node.
func (s *State) PodsByNode(node string) []string { return s.Snapshot().PodsByNode(node) }

// PodsByDeployment returns pod uids owned by a deployment.
func (s *State) PodsByDeployment(dep string) []string { return s.Snapshot().PodsByDeployment(dep) }

// ContainerKeys returns every "{pod_uid}-{container_name}" key.
func (s *State) ContainerKeys() []string { return s.Snapshot().ContainerKeys() }

// Pod looks up a pod in the current snapshot.
func (s *State) Pod(uid string) (topology.RuntimePod, bool) { return s.Snapshot().Pod(uid) }

// publish swaps in a fully built snapshot and records the discovery time.
func (s *State) publish(snap *topology.Snapshot, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.lastDiscoveredAt = &at
}

// markError records a failed resync. The snapshot and discovery time are kept.
func (s *State) markError(err error, at time.Time) {
	msg := err.Error()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErrorAt = &at
	s.lastErrorMessage = &msg
}

// Status is the externally visible freshness and error metadata.
type Status struct {
	LastDiscoveredAt *time.Time `json:"last_discovered_at"`
	LastErrorAt      *time.Time `json:"last_error_at"`
	LastErrorMessage *string    `json:"last_error_message"`
	ResyncRunning    bool       `json:"resync_running"`
	Fresh            bool       `json:"fresh"`
	Staleness        string     `json:"staleness"`
	Nodes            int        `json:"nodes"`
	Namespaces       int        `json:"namespaces"`
	Deployments      int        `json:"deployments"`
	Pods             int        `json:"pods"`
}

func (s *State) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		LastDiscoveredAt: copyTime(s.lastDiscoveredAt),
		LastErrorAt:      copyTime(s.lastErrorAt),
		Fresh:            s.freshLocked(),
		Staleness:        s.staleness.String(),
		Nodes:            len(s.snapshot.Nodes()),
		Namespaces:       len(s.snapshot.Namespaces()),
		Deployments:      len(s.snapshot.Deployments()),
		Pods:             s.snapshot.PodCount(),
	}
	if s.lastErrorMessage != nil {
		msg := *s.lastErrorMessage
		st.LastErrorMessage = &msg
	}
	return st
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
