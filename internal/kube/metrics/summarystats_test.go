package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"k8s.io/client-go/rest"
)

const summaryJSON = `{
  "node": {
    "nodeName": "node-1",
    "cpu": {"time": "2025-11-26T16:04:30Z", "usageNanoCores": 1500000000, "usageCoreNanoSeconds": 90000000000},
    "memory": {"time": "2025-11-26T16:04:30Z", "usageBytes": 4294967296, "workingSetBytes": 3221225472},
    "network": {"time": "2025-11-26T16:04:30Z", "interfaces": [
      {"name": "eth0", "rxBytes": 1000, "txBytes": 2000},
      {"name": "eth1", "rxBytes": 10, "txBytes": 20}
    ]},
    "fs": {"usedBytes": 1073741824, "capacityBytes": 10737418240, "inodes": 1000, "inodesUsed": 10}
  },
  "pods": [
    {
      "podRef": {"name": "api-7d9f", "namespace": "billing", "uid": "5f1c2a9e-8d3b-4c7a-9e21-0b6f4d2c1a77"},
      "cpu": {"time": "2025-11-26T16:04:30Z", "usageNanoCores": 0},
      "memory": {"time": "2025-11-26T16:04:30Z", "usageBytes": 536870912},
      "network": {"time": "2025-11-26T16:04:30Z", "name": "eth0", "rxBytes": 500, "txBytes": 700},
      "ephemeral-storage": {"usedBytes": 4096},
      "containers": [
        {"name": "app", "cpu": {"time": "2025-11-26T16:04:30Z", "usageNanoCores": 250000000}, "rootfs": {"usedBytes": 2048}}
      ]
    }
  ]
}`

func TestSummaryClient_NodeSummary(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path != "/api/v1/nodes/node-1/proxy/stats/summary" {
			http.Error(w, "no such node", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(summaryJSON))
	}))
	defer srv.Close()

	client, err := NewSummaryClient(zaptest.NewLogger(t), &rest.Config{Host: srv.URL}, false, 5*time.Second)
	require.NoError(t, err)

	sum, err := client.NodeSummary(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/nodes/node-1/proxy/stats/summary", gotPath)
	assert.Equal(t, "node-1", sum.Node.NodeName)
	assert.Equal(t, uint64(1500000000), *sum.Node.CPU.UsageNanoCores)

	pod, ok := sum.FindPod(podUID)
	require.True(t, ok)
	assert.Equal(t, "billing", pod.PodRef.Namespace)
	require.NotNil(t, pod.CPU.UsageNanoCores)
	assert.Equal(t, uint64(0), *pod.CPU.UsageNanoCores)

	c, ok := pod.FindContainer("app")
	require.True(t, ok)
	assert.Equal(t, uint64(2048), *c.Rootfs.UsedBytes)
	_, ok = pod.FindContainer("missing")
	assert.False(t, ok)

	_, err = client.NodeSummary(context.Background(), "node-2")
	assert.ErrorContains(t, err, "status 404")
}

func TestNetworkTotals(t *testing.T) {
	u := func(v uint64) *uint64 { return &v }

	perInterface := NetworkStats{Interfaces: []InterfaceStats{
		{Name: "eth0", RxBytes: u(1000), TxBytes: u(2000)},
		{Name: "eth1", RxBytes: u(10)},
	}}
	got := perInterface.totals()
	assert.Equal(t, uint64(1010), *got.RxBytes)
	assert.Equal(t, uint64(2000), *got.TxBytes)
	assert.Nil(t, got.RxErrors)

	single := NetworkStats{InterfaceStats: InterfaceStats{Name: "eth0", TxBytes: u(7)}}
	assert.Equal(t, uint64(7), *single.totals().TxBytes)
}
