package timeseries

import (
	"fmt"
	"sort"
)

// Scope is the aggregation level of a series.
type Scope string

const (
	ScopeContainer  Scope = "container"
	ScopePod        Scope = "pod"
	ScopeDeployment Scope = "deployment"
	ScopeNamespace  Scope = "namespace"
	ScopeNode       Scope = "node"
	ScopeCluster    Scope = "cluster"
)

// AllScopes lists every scope, leaves first.
var AllScopes = []Scope{ScopeContainer, ScopePod, ScopeDeployment, ScopeNamespace, ScopeNode, ScopeCluster}

// WildcardKey keys a series that aggregates every member of a scope.
const WildcardKey = "all"

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	for _, sc := range AllScopes {
		if string(sc) == s {
			return sc, nil
		}
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// MetricSeries is a time-ascending sequence of points with unique timestamps.
type MetricSeries struct {
	Scope  Scope         `json:"scope"`
	Key    string        `json:"key"`
	Points []MetricPoint `json:"points"`
}

// NewSeries creates an empty series.
func NewSeries(scope Scope, key string) MetricSeries {
	return MetricSeries{Scope: scope, Key: key, Points: []MetricPoint{}}
}

// Normalize sorts points by time and keeps the last point for any repeated
// timestamp.
func (s *MetricSeries) Normalize() {
	if len(s.Points) < 2 {
		return
	}
	sort.SliceStable(s.Points, func(i, j int) bool {
		return s.Points[i].Time.Before(s.Points[j].Time)
	})
	out := s.Points[:1]
	for _, p := range s.Points[1:] {
		last := &out[len(out)-1]
		if p.Time.Equal(last.Time) {
			*last = p
			continue
		}
		out = append(out, p)
	}
	s.Points = out
}

// Len returns the number of points.
func (s *MetricSeries) Len() int {
	return len(s.Points)
}
