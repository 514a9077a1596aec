// Package stats wraps HdrHistogram-Go recorders, the high-dynamic-range
// histogram the spec assumes is available as an external collaborator.
package stats

import (
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

const (
	lowestDiscernibleValue  = int64(time.Microsecond)
	highestTrackableValue   = int64(time.Minute)
	significantValueDigits  = 3
)

// Recorder is a thin ownership wrapper around a pair of HDR histograms:
// one accumulates for the life of the run, the other is swapped out
// atomically on every IntervalSnapshot so a periodic reporter can see
// only what was recorded since the last tick. Record is safe under
// heavy concurrent load; it takes a single mutex per call, which is the
// recommended low-contention pattern for hdrhistogram-go's recorder
// (the library itself is not goroutine-safe without one).
type Recorder struct {
	mu       sync.Mutex
	total    *hdrhistogram.Histogram
	interval *hdrhistogram.Histogram
}

// NewRecorder creates a Recorder covering [1us, 1min] at 3 significant
// digits.
func NewRecorder() *Recorder {
	return &Recorder{
		total:    hdrhistogram.New(lowestDiscernibleValue, highestTrackableValue, significantValueDigits),
		interval: hdrhistogram.New(lowestDiscernibleValue, highestTrackableValue, significantValueDigits),
	}
}

// Record adds one sample, in nanoseconds, to both the total and the
// current interval window.
func (r *Recorder) Record(valueNanos int64) {
	if valueNanos < lowestDiscernibleValue {
		valueNanos = lowestDiscernibleValue
	} else if valueNanos > highestTrackableValue {
		valueNanos = highestTrackableValue
	}
	r.mu.Lock()
	_ = r.total.RecordValue(valueNanos)
	_ = r.interval.RecordValue(valueNanos)
	r.mu.Unlock()
}

// IntervalSnapshot returns an immutable copy of the values recorded
// since the previous snapshot (or since construction) and resets the
// interval window atomically.
func (r *Recorder) IntervalSnapshot() *hdrhistogram.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.interval
	r.interval = hdrhistogram.New(lowestDiscernibleValue, highestTrackableValue, significantValueDigits)
	return snapshot
}

// Total returns an immutable copy of every value recorded across the
// life of the Recorder.
func (r *Recorder) Total() *hdrhistogram.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	return hdrhistogram.Import(r.total.Export())
}

// Count returns the number of values recorded so far in total.
func (r *Recorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total.TotalCount()
}
