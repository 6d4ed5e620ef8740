// Package metrics holds the pipeline counters. Every recoverable failure
// in the collector surfaces here rather than stopping the run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of collector counters. All fields are safe for
// concurrent use.
type Metrics struct {
	FramesReceived   prometheus.Counter
	DecodeErrors     *prometheus.CounterVec // label: kind (malformed, invalid_field, too_long)
	CapturesTaken    prometheus.Counter
	CaptureFailures  prometheus.Counter
	CapturesDropped  prometheus.Counter
	TelemetryDropped prometheus.Counter
	SamplesCommitted prometheus.Counter
	SamplesFailed    prometheus.Counter
	LinkReconnects   prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermal_frames_received_total",
			Help: "Lines received on the telemetry link, regardless of decode outcome.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermal_decode_errors_total",
			Help: "Lines that failed to decode, by error kind.",
		}, []string{"kind"}),
		CapturesTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermal_captures_total",
			Help: "Thermal frames captured.",
		}),
		CaptureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermal_capture_failures_total",
			Help: "Capture attempts that failed and were skipped.",
		}),
		CapturesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermal_captures_dropped_total",
			Help: "Captures shed under queue backpressure.",
		}),
		TelemetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermal_telemetry_dropped_total",
			Help: "Telemetry records shed under queue backpressure.",
		}),
		SamplesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermal_samples_committed_total",
			Help: "Correlated samples durably committed across all stores.",
		}),
		SamplesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermal_samples_failed_total",
			Help: "Correlated samples dropped after a failed commit and retry.",
		}),
		LinkReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermal_link_reconnects_total",
			Help: "Serial link reconnect attempts.",
		}),
	}

	reg.MustRegister(
		m.FramesReceived,
		m.DecodeErrors,
		m.CapturesTaken,
		m.CaptureFailures,
		m.CapturesDropped,
		m.TelemetryDropped,
		m.SamplesCommitted,
		m.SamplesFailed,
		m.LinkReconnects,
	)

	return m
}
