// Package metrics exposes the Prometheus instrumentation shared by the
// control loop, sampler, and exporters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the service registers.
type Metrics struct {
	SamplesTotal      prometheus.Counter
	SampleDrops       prometheus.Counter
	CommandsRejected  prometheus.Counter
	NearMisses        prometheus.Counter
	ForceStops        prometheus.Counter
	SampleQueueLength prometheus.Gauge
	CommandSeconds    prometheus.Histogram
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgectl_samples_total",
			Help: "Telemetry samples accepted by the control loop.",
		}),
		SampleDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgectl_samples_dropped_total",
			Help: "Samples evicted from the hand-off queue under backpressure.",
		}),
		CommandsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgectl_commands_rejected_total",
			Help: "Commands rejected by the state table, interlocks, or device.",
		}),
		NearMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgectl_interlock_near_misses_total",
			Help: "Commands vetoed by a reject-command interlock rule.",
		}),
		ForceStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgectl_force_stops_total",
			Help: "Forced transitions to the faulted state.",
		}),
		SampleQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgectl_sample_queue_length",
			Help: "Samples currently buffered between sampler and control loop.",
		}),
		CommandSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgectl_command_seconds",
			Help:    "End-to-end command execution time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SamplesTotal, m.SampleDrops, m.CommandsRejected,
			m.NearMisses, m.ForceStops, m.SampleQueueLength, m.CommandSeconds,
		)
	}
	return m
}

// NewUnregistered returns collectors that are not attached to any registry,
// for callers that only need counting.
func NewUnregistered() *Metrics {
	return New(nil)
}
