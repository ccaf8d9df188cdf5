// Package metrics registers the engine's Prometheus collectors against an
// injected prometheus.Registerer. Grounded on jordigilh-kubernaut's go.mod
// carrying prometheus/client_golang as a first-class dependency for
// control-plane instrumentation — tarsy itself has no Prometheus
// integration to ground this on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds every metric the engine emits.
type Collectors struct {
	WatchCyclesTotal    prometheus.Counter
	EventsDetectedTotal *prometheus.CounterVec
	PlaybookRunsTotal   *prometheus.CounterVec
	PendingApprovals    prometheus.Gauge
	ToolCallDuration    *prometheus.HistogramVec
}

// New registers all collectors on reg and returns the handle used to update
// them. reg is typically prometheus.DefaultRegisterer in production and a
// fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		WatchCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiops",
			Name:      "watch_cycles_total",
			Help:      "Total number of WatchLoop scan cycles completed.",
		}),
		EventsDetectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiops",
			Name:      "events_detected_total",
			Help:      "Total ClusterEvents dispatched, by kind.",
		}, []string{"kind"}),
		PlaybookRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiops",
			Name:      "playbook_runs_total",
			Help:      "Total PlaybookRuns reaching a terminal status, by playbook and status.",
		}, []string{"playbook", "status"}),
		PendingApprovals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aiops",
			Name:      "pending_approvals",
			Help:      "Current number of PendingApprovals awaiting a reply.",
		}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aiops",
			Name:      "tool_call_duration_seconds",
			Help:      "MCP tool call latency, by server and tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "tool"}),
	}

	reg.MustRegister(
		c.WatchCyclesTotal,
		c.EventsDetectedTotal,
		c.PlaybookRunsTotal,
		c.PendingApprovals,
		c.ToolCallDuration,
	)
	return c
}

// A nil *Collectors is safe to call every method on below — metrics are
// disabled whenever cfg.Metrics.Enabled is false, and callers shouldn't need
// a presence check at every call site (mirrors pkg/audit.Log's nil handling).

// IncWatchCycle records one completed WatchLoop scan cycle.
func (c *Collectors) IncWatchCycle() {
	if c == nil {
		return
	}
	c.WatchCyclesTotal.Inc()
}

// IncEventDetected records one newly-observed ClusterEvent of kind.
func (c *Collectors) IncEventDetected(kind string) {
	if c == nil {
		return
	}
	c.EventsDetectedTotal.WithLabelValues(kind).Inc()
}

// IncPlaybookRun records one PlaybookRun reaching a terminal status.
func (c *Collectors) IncPlaybookRun(playbookID, status string) {
	if c == nil {
		return
	}
	c.PlaybookRunsTotal.WithLabelValues(playbookID, status).Inc()
}

// SetPendingApprovals publishes the current size of the live pending set.
func (c *Collectors) SetPendingApprovals(n int) {
	if c == nil {
		return
	}
	c.PendingApprovals.Set(float64(n))
}

// ObserveToolCallDuration records one MCP tool call's latency.
func (c *Collectors) ObserveToolCallDuration(server, tool string, d time.Duration) {
	if c == nil {
		return
	}
	c.ToolCallDuration.WithLabelValues(server, tool).Observe(d.Seconds())
}
