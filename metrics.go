package integrityfs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives counters from the integrity layer. Implementations must be
// safe for concurrent use.
type Metrics interface {
	// DigestComputed records a successful digest over n bytes
	DigestComputed(algorithm string, n int64, elapsed time.Duration)

	// DigestFailed records a digest computation that failed
	DigestFailed(algorithm string, kind Kind)

	// Verified records the outcome of a verification
	Verified(result Result)

	// AttrRejected records an attribute operation that returned an error
	AttrRejected(op string, kind Kind)
}

type nopMetrics struct{}

func (nopMetrics) DigestComputed(string, int64, time.Duration) {}
func (nopMetrics) DigestFailed(string, Kind)                   {}
func (nopMetrics) Verified(Result)                             {}
func (nopMetrics) AttrRejected(string, Kind)                   {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

// PrometheusMetrics is the Prometheus implementation of Metrics
type PrometheusMetrics struct {
	digests       *prometheus.CounterVec
	digestErrors  *prometheus.CounterVec
	bytesHashed   *prometheus.CounterVec
	digestSeconds *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	rejected      *prometheus.CounterVec
}

// NewPrometheusMetrics registers the integrity metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		digests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "integrityfs_digests_total",
				Help: "Total number of digests computed by algorithm",
			},
			[]string{"algorithm"},
		),
		digestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "integrityfs_digest_errors_total",
				Help: "Total number of failed digest computations by algorithm and error kind",
			},
			[]string{"algorithm", "kind"},
		),
		bytesHashed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "integrityfs_bytes_hashed_total",
				Help: "Total number of content bytes fed to hash functions",
			},
			[]string{"algorithm"},
		),
		digestSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "integrityfs_digest_duration_seconds",
				Help:    "Time spent computing one digest",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"algorithm"},
		),
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "integrityfs_verifications_total",
				Help: "Total number of verifications by result",
			},
			[]string{"result"}, // "match", "mismatch", "unprotected", "no_baseline"
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "integrityfs_attr_errors_total",
				Help: "Total number of attribute operations that returned an error",
			},
			[]string{"op", "kind"},
		),
	}
}

// DigestComputed records a successful digest
func (m *PrometheusMetrics) DigestComputed(algorithm string, n int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.digests.WithLabelValues(algorithm).Inc()
	m.bytesHashed.WithLabelValues(algorithm).Add(float64(n))
	m.digestSeconds.WithLabelValues(algorithm).Observe(elapsed.Seconds())
}

// DigestFailed records a failed digest
func (m *PrometheusMetrics) DigestFailed(algorithm string, kind Kind) {
	if m == nil {
		return
	}
	m.digestErrors.WithLabelValues(algorithm, kind.String()).Inc()
}

// Verified records a verification outcome
func (m *PrometheusMetrics) Verified(result Result) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result.String()).Inc()
}

// AttrRejected records a failed attribute operation
func (m *PrometheusMetrics) AttrRejected(op string, kind Kind) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(op, kind.String()).Inc()
}

var _ Metrics = (*PrometheusMetrics)(nil)
