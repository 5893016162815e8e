package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/clustdock/clustdock/pkg/health"
	"github.com/clustdock/clustdock/pkg/metrics"
	"github.com/clustdock/clustdock/pkg/types"
)

// MetricsCollector polls a Worker on an interval and keeps the
// clustdock_nodes / clustdock_hosts_unreachable gauges current. Mirrors
// the teacher's manager.MetricsCollector, rebuilt against Worker's
// discover/List and a health.Registry of per-host driver checks.
type MetricsCollector struct {
	worker   *Worker
	registry *health.Registry
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsCollector builds a MetricsCollector over w, polling every
// interval.
func NewMetricsCollector(w *Worker, interval time.Duration) *MetricsCollector {
	c := &MetricsCollector{
		worker:   w,
		registry: health.NewRegistry(health.DefaultConfig()),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	for _, host := range w.Hosts() {
		c.registry.Register(host+"/container", health.NewDriverChecker(w.Cache(), host, types.KindContainer))
		c.registry.Register(host+"/vm", health.NewDriverChecker(w.Cache(), host, types.KindVM))
	}
	return c
}

// Start begins collecting metrics in the background.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	c.collectNodeMetrics(ctx)
	c.collectHostReachability(ctx)
}

func (c *MetricsCollector) collectNodeMetrics(ctx context.Context) {
	reply, err := c.worker.List(ctx, true)
	if err != nil {
		return
	}

	counts := make(map[[2]string]int)
	for _, snapshots := range reply.Hosts {
		for _, n := range snapshots {
			key := [2]string{n.Kind, strconv.Itoa(n.Status)}
			counts[key]++
		}
	}

	metrics.NodesByStatus.Reset()
	for key, count := range counts {
		metrics.NodesByStatus.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}

func (c *MetricsCollector) collectHostReachability(ctx context.Context) {
	snapshot := c.registry.CheckAll(ctx)

	unreachable := 0
	for _, status := range snapshot {
		if !status.Healthy {
			unreachable++
		}
	}
	metrics.HostsUnreachable.Set(float64(unreachable))
}
