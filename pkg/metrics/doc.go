/*
Package metrics defines and registers clustdockd's Prometheus metrics:
node counts by kind/status, dispatcher request counts and latency, and
fan-out job counts and latency. All metrics register at package init
against the default registry and are exposed via Handler() on /metrics.

worker.MetricsCollector polls a Worker on an interval and keeps the
gauge metrics (node counts, unreachable hosts) current; the counter and
histogram metrics are updated directly by pkg/dispatcher and pkg/worker
as requests and fan-out jobs complete.
*/
package metrics
