package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/volcanion-company/loadgen-core/internal/domain"
	"github.com/volcanion-company/loadgen-core/internal/model"
	"github.com/volcanion-company/loadgen-core/internal/result"
)

// slaMonitor evaluates a Workload's optional SLA thresholds once a run
// reaches STOPPED. Per SLAConfig's doc comment, the Engine never aborts
// a run over a breach; a slaMonitor only surfaces one through
// Engine.SLAViolation for a caller that wants a pass/fail verdict
// without combing through percentiles itself.
type slaMonitor struct {
	sla     *model.SLAConfig
	handler *result.Handler
	log     *zap.Logger
	start   time.Time

	violation error
}

func newSLAMonitor(sla *model.SLAConfig, handler *result.Handler, log *zap.Logger) *slaMonitor {
	return &slaMonitor{sla: sla, handler: handler, log: log, start: time.Now()}
}

// Violation returns the first SLA breach found at Stop, or nil if none
// of the configured thresholds were exceeded.
func (m *slaMonitor) Violation() error { return m.violation }

// OnLoadGeneratorStop implements observe.StopListener.
func (m *slaMonitor) OnLoadGeneratorStop() {
	latencyTotal := m.handler.LatencyRecorder().Total()

	if m.sla.MaxP95Latency > 0 && latencyTotal.TotalCount() > 0 {
		p95 := time.Duration(latencyTotal.ValueAtPercentile(95))
		if p95 > m.sla.MaxP95Latency {
			m.reject(fmt.Sprintf("p95 latency %s exceeds %s", p95, m.sla.MaxP95Latency))
			return
		}
	}
	if m.sla.MaxP99Latency > 0 && latencyTotal.TotalCount() > 0 {
		p99 := time.Duration(latencyTotal.ValueAtPercentile(99))
		if p99 > m.sla.MaxP99Latency {
			m.reject(fmt.Sprintf("p99 latency %s exceeds %s", p99, m.sla.MaxP99Latency))
			return
		}
	}

	total := m.handler.TotalRequests()
	if m.sla.MaxErrorRate > 0 && total > 0 {
		rate := float64(m.handler.FailedRequests()) / float64(total) * 100
		if rate > m.sla.MaxErrorRate {
			m.reject(fmt.Sprintf("error rate %.2f%% exceeds %.2f%%", rate, m.sla.MaxErrorRate))
			return
		}
	}

	if elapsed := time.Since(m.start); m.sla.MinResourceRate > 0 && elapsed > 0 {
		rate := float64(total) / elapsed.Seconds()
		if rate < m.sla.MinResourceRate {
			m.reject(fmt.Sprintf("resource rate %.2f/s below minimum %.2f/s", rate, m.sla.MinResourceRate))
		}
	}
}

func (m *slaMonitor) reject(reason string) {
	m.violation = fmt.Errorf("%w: %s", domain.ErrSLAViolation, reason)
	m.log.Warn("sla violation", zap.Error(m.violation))
}
