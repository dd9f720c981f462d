// internal/metrics/prom.go
// Package metrics centralises Prometheus metric registration for the
// gatewayhub binaries. It exposes typed collectors so that code can remain
// import-cycle-free. The package registers with the global
// prometheus.DefaultRegisterer, which callers typically expose via the
// /metrics HTTP handler from the Prometheus client library.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// Gauge metrics ---------------------------------------------------------
	ConnectedGateways = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatewayhub",
		Subsystem: "hub",
		Name:      "connected_gateways",
		Help:      "Number of gateways with a live duplex connection.",
	})

	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatewayhub",
		Subsystem: "hub",
		Name:      "browser_subscribers",
		Help:      "Current number of attached browser subscriber connections.",
	})

	PendingCommands = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatewayhub",
		Subsystem: "hub",
		Name:      "pending_commands",
		Help:      "Number of commands awaiting a gateway ack.",
	})

	// Counter metrics -------------------------------------------------------
	FramesRoutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewayhub",
		Subsystem: "hub",
		Name:      "frames_routed_total",
		Help:      "Total number of terminal frames routed, partitioned by direction.",
	}, []string{"direction"})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewayhub",
		Subsystem: "hub",
		Name:      "commands_total",
		Help:      "Total number of dispatched commands, partitioned by type and outcome.",
	}, []string{"type", "outcome"})

	GatewayDisconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewayhub",
		Subsystem: "hub",
		Name:      "gateway_disconnects_total",
		Help:      "Total number of gateway socket disconnects observed.",
	})

	IdleEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewayhub",
		Subsystem: "hub",
		Name:      "idle_evictions_total",
		Help:      "Total number of browser subscribers evicted for inactivity.",
	})

	// Histogram metrics -------------------------------------------------------
	CommandLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatewayhub",
		Subsystem: "hub",
		Name:      "command_latency_seconds",
		Help:      "Latency between sendCommand dispatch and ack/reject, by command type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	ReconcilePassSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatewayhub",
		Subsystem: "reconcile",
		Name:      "pass_duration_seconds",
		Help:      "Duration of each reconciliation pass.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"pass"})
)

// Register exports all metrics; safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ConnectedGateways,
			Subscribers,
			PendingCommands,
			FramesRoutedTotal,
			CommandsTotal,
			GatewayDisconnectsTotal,
			IdleEvictionsTotal,
			CommandLatencySeconds,
			ReconcilePassSeconds,
		)
	})
}
