package worker

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/clustdock/clustdock/pkg/metrics"
	"github.com/clustdock/clustdock/pkg/types"
)

func TestMetricsCollectorUpdatesNodeGauge(t *testing.T) {
	w := newTestWorker([]types.Node{
		{Name: "web0", Host: "hostA", Kind: types.KindContainer, Status: types.StatusRunning},
		{Name: "web1", Host: "hostA", Kind: types.KindContainer, Status: types.StatusStopped},
	}, map[string]bool{"hostA": true})

	c := NewMetricsCollector(w, time.Second)
	c.collect()

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.NodesByStatus.WithLabelValues("container", "1")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.HostsUnreachable))
}

func TestMetricsCollectorStartStop(t *testing.T) {
	w := newTestWorker(nil, map[string]bool{"hostA": true})
	c := NewMetricsCollector(w, 10*time.Millisecond)
	c.Start()
	time.Sleep(25 * time.Millisecond)
	c.Stop()
}
