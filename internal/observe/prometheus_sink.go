package observe

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/volcanion-company/loadgen-core/internal/model"
)

// PrometheusSink exports latency and response-time samples as Prometheus
// histograms. It implements LatencyListener, ResponseTimeListener and
// NodeListener, plus the Engine's worker-count gauge, so it can be
// attached without the Result handler knowing Prometheus exists.
type PrometheusSink struct {
	EngineID string

	latency       *prometheus.HistogramVec
	responseTime  *prometheus.HistogramVec
	requests      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	activeWorkers prometheus.Gauge
}

// NewPrometheusSink registers the collector's metrics against reg. Pass
// prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer in production.
func NewPrometheusSink(engineID string, reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		EngineID: engineID,
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loadgen_latency_seconds",
			Help:    "Time from request send to first response byte.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"engine_id"}),
		responseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loadgen_response_time_seconds",
			Help:    "Time from request send to last response byte.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"engine_id", "path"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loadgen_requests_total",
			Help: "Total resource requests issued.",
		}, []string{"engine_id", "status"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loadgen_requests_failed_total",
			Help: "Total resource requests that failed.",
		}, []string{"engine_id"}),
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_active_workers",
			Help: "Number of Runners currently executing.",
		}),
	}
}

// OnLatencyValue implements LatencyListener.
func (s *PrometheusSink) OnLatencyValue(nanos int64) {
	s.latency.WithLabelValues(s.EngineID).Observe(time.Duration(nanos).Seconds())
}

// OnResponseTimeValue implements ResponseTimeListener.
func (s *PrometheusSink) OnResponseTimeValue(path string, nanos int64) {
	s.responseTime.WithLabelValues(s.EngineID, path).Observe(time.Duration(nanos).Seconds())
}

// OnNode implements NodeListener, counting requests by status and
// tallying failures.
func (s *PrometheusSink) OnNode(info *model.ResourceInfo) {
	status := "error"
	if info.Status > 0 {
		status = strconv.Itoa(info.Status)
	}
	s.requests.WithLabelValues(s.EngineID, status).Inc()
	if info.Err != nil {
		s.failures.WithLabelValues(s.EngineID).Inc()
	}
}

// SetActiveWorkers implements the Engine's worker-count gauge update.
func (s *PrometheusSink) SetActiveWorkers(n int) {
	s.activeWorkers.Set(float64(n))
}
