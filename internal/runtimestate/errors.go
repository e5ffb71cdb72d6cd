package runtimestate

import (
	"fmt"
	"time"
)

// StaleStateError is returned when the cached topology is older than the
// staleness threshold. It is retryable: the next successful resync clears it.
type StaleStateError struct {
	LastDiscoveredAt *time.Time
	Threshold        time.Duration
}

func (e *StaleStateError) Error() string {
	if e.LastDiscoveredAt == nil {
		return "runtime state not resynchronized (never discovered)"
	}
	return fmt.Sprintf("runtime state not resynchronized (older than %s)", e.Threshold)
}

// ClusterUnreachableError means the reachability probe failed and the resync
// was abandoned before touching the snapshot.
type ClusterUnreachableError struct {
	Err error
}

func (e *ClusterUnreachableError) Error() string {
	return fmt.Sprintf("cluster unreachable: %v", e.Err)
}

func (e *ClusterUnreachableError) Unwrap() error {
	return e.Err
}

// ResyncResult is the immediate outcome of a resync request.
type ResyncResult string

const (
	// ResyncStarted means this call launched the background refresh.
	ResyncStarted ResyncResult = "started"
	// ResyncAlreadyRunning means another refresh was in flight; nothing was queued.
	ResyncAlreadyRunning ResyncResult = "already_running"
)
