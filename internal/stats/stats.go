// Package stats wires dispatcher-shaped Prometheus series using the same
// promauto idiom commonly used for HTTP request metrics, repointed at
// connection/stream-lifecycle events instead.
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records dispatcher lifecycle events. A nil *Recorder is valid and
// records nothing; every method is a nil-receiver no-op so callers never
// need to branch on whether metrics are enabled.
type Recorder struct {
	activeStreams prometheus.Gauge
	streamResets  *prometheus.CounterVec
	goaways       prometheus.Counter
	pingRTT       prometheus.Histogram
	pingFailures  prometheus.Counter
}

// New registers a fresh set of dispatcher metrics under reg. If reg is nil,
// prometheus.DefaultRegisterer is used. The scope label distinguishes
// metrics from multiple dispatchers (e.g. multiple connections) sharing a
// registry.
func New(reg prometheus.Registerer, scope string) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	constLabels := prometheus.Labels{"scope": scope}

	return &Recorder{
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "h2dispatch_active_streams",
			Help:        "Current number of streams tracked Open in the stream table.",
			ConstLabels: constLabels,
		}),
		streamResets: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "h2dispatch_stream_resets_total",
			Help:        "Total RST_STREAM frames emitted by the dispatcher, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		goaways: factory.NewCounter(prometheus.CounterOpts{
			Name:        "h2dispatch_goaways_total",
			Help:        "Total GOAWAY frames emitted by the dispatcher.",
			ConstLabels: constLabels,
		}),
		pingRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "h2dispatch_ping_rtt_seconds",
			Help:        "Observed PING round-trip time.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}),
		pingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "h2dispatch_ping_failures_total",
			Help:        "Total pings that timed out or errored before an ACK arrived.",
			ConstLabels: constLabels,
		}),
	}
}

// StreamOpened increments the active-stream gauge.
func (r *Recorder) StreamOpened() {
	if r == nil {
		return
	}
	r.activeStreams.Inc()
}

// StreamClosed decrements the active-stream gauge.
func (r *Recorder) StreamClosed() {
	if r == nil {
		return
	}
	r.activeStreams.Dec()
}

// StreamReset records an emitted RST_STREAM, labeled by reason
// (the dispatcher uses "local-reset", "failed" and "late-frame").
func (r *Recorder) StreamReset(reason string) {
	if r == nil {
		return
	}
	r.streamResets.WithLabelValues(reason).Inc()
}

// GoAwaySent records an emitted GOAWAY.
func (r *Recorder) GoAwaySent() {
	if r == nil {
		return
	}
	r.goaways.Inc()
}

// PingRTT records the round-trip time of an ACKed PING.
func (r *Recorder) PingRTT(d time.Duration) {
	if r == nil {
		return
	}
	r.pingRTT.Observe(d.Seconds())
}

// PingFailed records a ping that did not complete successfully.
func (r *Recorder) PingFailed() {
	if r == nil {
		return
	}
	r.pingFailures.Inc()
}
