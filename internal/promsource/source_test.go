package promsource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

const podUID = "5f1c2a9e-8d3b-4c7a-9e21-0b6f4d2c1a77"

type podMap map[string]topology.RuntimePod

func (m podMap) Pod(uid string) (topology.RuntimePod, bool) {
	p, ok := m[uid]
	return p, ok
}

var testPods = podMap{
	podUID: {UID: podUID, Name: "api-7d9f", Namespace: "billing", Node: "node-1", Containers: []string{"app"}},
}

// promServer answers query_range with a canned matrix per metric name and
// records every query it sees.
type promServer struct {
	mu      sync.Mutex
	queries []string
	values  map[string]string
	fail    string
}

func (p *promServer) handler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := r.Form.Get("query")
	p.mu.Lock()
	p.queries = append(p.queries, q)
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if p.fail != "" && strings.Contains(q, p.fail) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"status":"error","errorType":"execution","error":"boom"}`)
		return
	}

	result := "[]"
	for metric, values := range p.values {
		if strings.Contains(q, metric) {
			result = fmt.Sprintf(`[{"metric":{},"values":%s}]`, values)
			break
		}
	}
	fmt.Fprintf(w, `{"status":"success","data":{"resultType":"matrix","result":%s}}`, result)
}

func newTestSource(t *testing.T, ps *promServer) *Source {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(ps.handler))
	t.Cleanup(srv.Close)

	s, err := New(zaptest.NewLogger(t), Config{URL: srv.URL, Timeout: 5 * time.Second, Concurrency: 3}, testPods, nil)
	require.NoError(t, err)
	return s
}

var (
	t0 = time.Date(2025, 11, 26, 16, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func TestFetchRaw_Pod(t *testing.T) {
	ps := &promServer{values: map[string]string{
		"container_memory_working_set_bytes": fmt.Sprintf(`[[%d,"100"],[%d,"0"]]`, t0.Unix(), t1.Unix()),
		"container_network_transmit_bytes":   fmt.Sprintf(`[[%d,"2048"]]`, t1.Unix()),
	}}
	s := newTestSource(t, ps)

	got, err := s.FetchRaw(context.Background(), timeseries.ScopePod, podUID, timeseries.Range{
		Start: t0.Add(20 * time.Second), End: t1, Granularity: timeseries.Minute,
	})
	require.NoError(t, err)
	require.Len(t, got.Points, 2)

	assert.True(t, got.Points[0].Time.Equal(t0))
	assert.Equal(t, 100.0, *got.Points[0].Memory.WorkingSetBytes)
	assert.Nil(t, got.Points[0].Network.TxBytes)
	assert.Nil(t, got.Points[0].CPU.UsageNanoCores)

	require.NotNil(t, got.Points[1].Memory.WorkingSetBytes)
	assert.Equal(t, 0.0, *got.Points[1].Memory.WorkingSetBytes)
	assert.Equal(t, 2048.0, *got.Points[1].Network.TxBytes)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	assert.Len(t, ps.queries, len(fieldQueries))
	for _, q := range ps.queries {
		assert.Contains(t, q, `namespace="billing",pod="api-7d9f"`)
		assert.NotContains(t, q, "{{")
	}
}

func TestFetchRaw_ContainerSkipsNetwork(t *testing.T) {
	ps := &promServer{values: map[string]string{}}
	s := newTestSource(t, ps)

	got, err := s.FetchRaw(context.Background(), timeseries.ScopeContainer, topology.ContainerKey(podUID, "app"), timeseries.Range{
		Start: t0, End: t1, Granularity: timeseries.Minute,
	})
	require.NoError(t, err)
	assert.Empty(t, got.Points)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	assert.Len(t, ps.queries, len(fieldQueries)-4)
	for _, q := range ps.queries {
		assert.Contains(t, q, `container="app"`)
		assert.NotContains(t, q, "network")
	}
}

func TestFetchRaw_Node(t *testing.T) {
	ps := &promServer{values: map[string]string{}}
	s := newTestSource(t, ps)

	_, err := s.FetchRaw(context.Background(), timeseries.ScopeNode, "node-1", timeseries.Range{Start: t0, End: t0.Add(time.Hour), Granularity: timeseries.Hour})
	require.NoError(t, err)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, q := range ps.queries {
		assert.Contains(t, q, `node="node-1",id="/"`)
		if strings.Contains(q, "increase(") {
			assert.Contains(t, q, "[1h]")
		}
	}
}

func TestFetchRaw_Errors(t *testing.T) {
	t.Run("pod outside the snapshot is empty", func(t *testing.T) {
		ps := &promServer{}
		s := newTestSource(t, ps)
		got, err := s.FetchRaw(context.Background(), timeseries.ScopePod, "missing", timeseries.Range{Start: t0, End: t1})
		require.NoError(t, err)
		assert.Empty(t, got.Points)
		ps.mu.Lock()
		defer ps.mu.Unlock()
		assert.Empty(t, ps.queries)
	})

	t.Run("unsupported scope", func(t *testing.T) {
		s := newTestSource(t, &promServer{})
		_, err := s.FetchRaw(context.Background(), timeseries.ScopeNamespace, "billing", timeseries.Range{Start: t0, End: t1})
		assert.Error(t, err)
	})

	t.Run("query failure fails the member", func(t *testing.T) {
		s := newTestSource(t, &promServer{fail: "container_memory_rss"})
		_, err := s.FetchRaw(context.Background(), timeseries.ScopePod, podUID, timeseries.Range{Start: t0, End: t1})
		assert.ErrorContains(t, err, string(timeseries.MemoryRSSBytes))
	})
}

func TestRender(t *testing.T) {
	q := render(`sum(increase(x{{{sel}}}[{{step}}]))`, `a="b"`, 24*time.Hour)
	assert.Equal(t, `sum(increase(x{a="b"}[1d]))`, q)
	assert.Equal(t, `namespace="a\"b",pod="p"`, matchers("namespace", `a"b`, "pod", "p"))
}
