package observe

import (
	"context"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"

	"github.com/volcanion-company/loadgen-core/internal/stats"
)

// Summary is the per-tick digest: min, max, mean, standard deviation,
// count, and p50/p90/p99/p99.9, all in microseconds.
type Summary struct {
	Min, Max, Mean, StdDev float64
	Count                  int64
	P50, P90, P99, P999    float64
}

// Summarize reduces an interval histogram into microsecond units.
func Summarize(h *hdrhistogram.Histogram) Summary {
	const usPerNs = 1.0 / 1000.0
	return Summary{
		Min:    float64(h.Min()) * usPerNs,
		Max:    float64(h.Max()) * usPerNs,
		Mean:   h.Mean() * usPerNs,
		StdDev: h.StdDev() * usPerNs,
		Count:  h.TotalCount(),
		P50:    float64(h.ValueAtPercentile(50)) * usPerNs,
		P90:    float64(h.ValueAtPercentile(90)) * usPerNs,
		P99:    float64(h.ValueAtPercentile(99)) * usPerNs,
		P999:   float64(h.ValueAtPercentile(99.9)) * usPerNs,
	}
}

// SnapshotListener receives one interval histogram (and its Summary) per
// tick of a SnapshotTask.
type SnapshotListener interface {
	OnSnapshot(histogram *hdrhistogram.Histogram, summary Summary)
}

// SnapshotListenerFunc adapts a function to a SnapshotListener.
type SnapshotListenerFunc func(*hdrhistogram.Histogram, Summary)

// OnSnapshot implements SnapshotListener.
func (f SnapshotListenerFunc) OnSnapshot(h *hdrhistogram.Histogram, s Summary) { f(h, s) }

// SnapshotTask ticks a Recorder's IntervalSnapshot at a configured
// initial-delay/period and fans the result out to every installed
// SnapshotListener.
type SnapshotTask struct {
	recorder     *stats.Recorder
	initialDelay time.Duration
	period       time.Duration
	listeners    []SnapshotListener
}

// NewSnapshotTask schedules snapshots of recorder at initialDelay, then
// every period thereafter.
func NewSnapshotTask(recorder *stats.Recorder, initialDelay, period time.Duration, listeners ...SnapshotListener) *SnapshotTask {
	return &SnapshotTask{recorder: recorder, initialDelay: initialDelay, period: period, listeners: listeners}
}

// Run blocks, emitting snapshots until ctx is cancelled. Call it from a
// dedicated goroutine; the Engine runs one of these per installed
// snapshot task.
func (t *SnapshotTask) Run(ctx context.Context) {
	if t.period <= 0 {
		return
	}

	timer := time.NewTimer(maxDuration(t.initialDelay, 0))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			t.emit()
			timer.Reset(t.period)
		}
	}
}

func (t *SnapshotTask) emit() {
	h := t.recorder.IntervalSnapshot()
	summary := Summarize(h)
	for _, l := range t.listeners {
		l.OnSnapshot(h, summary)
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
