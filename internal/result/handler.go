// Package result implements the hot-path sink: it receives per-request
// timing events, updates the recorders, and fans out to user-supplied
// observers.
package result

import (
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/volcanion-company/loadgen-core/internal/model"
	"github.com/volcanion-company/loadgen-core/internal/observe"
	"github.com/volcanion-company/loadgen-core/internal/stats"
)

// Handler is the Engine's shared Result handler. Runners borrow a
// reference to it; it owns the global latency/response-time recorders
// and the per-path map, and is the single point every observer callback
// is dispatched from.
type Handler struct {
	state *atomic.Int32 // holds model.State, shared with the Engine
	log   *zap.Logger

	latency      *stats.Recorder
	responseTime *stats.Recorder
	byPath       *stats.PathRecorders

	failOnStatusGE int

	requestListeners      []observe.RequestListener
	nodeListeners         []observe.NodeListener
	treeListeners         []observe.TreeListener
	latencyListeners      []observe.LatencyListener
	responseTimeListeners []observe.ResponseTimeListener
	stopListeners         []observe.StopListener

	failedRequests atomic.Int64
	totalRequests  atomic.Int64
}

// New creates a Handler sharing state with its owning Engine.
// failOnStatusGE is configurable; 0 disables the check.
func New(state *atomic.Int32, failOnStatusGE int, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		state:          state,
		log:            log,
		latency:        stats.NewRecorder(),
		responseTime:   stats.NewRecorder(),
		byPath:         stats.NewPathRecorders(),
		failOnStatusGE: failOnStatusGE,
	}
}

// AddRequestListener registers l to receive every request/response event.
func (h *Handler) AddRequestListener(l observe.RequestListener) { h.requestListeners = append(h.requestListeners, l) }

// AddNodeListener registers l to receive RUNNING-state node completions.
func (h *Handler) AddNodeListener(l observe.NodeListener) { h.nodeListeners = append(h.nodeListeners, l) }

// AddTreeListener registers l to receive RUNNING-state subtree completions.
func (h *Handler) AddTreeListener(l observe.TreeListener) { h.treeListeners = append(h.treeListeners, l) }

// AddLatencyListener registers l on the latency hot path.
func (h *Handler) AddLatencyListener(l observe.LatencyListener) {
	h.latencyListeners = append(h.latencyListeners, l)
}

// AddResponseTimeListener registers l on the response-time hot path.
func (h *Handler) AddResponseTimeListener(l observe.ResponseTimeListener) {
	h.responseTimeListeners = append(h.responseTimeListeners, l)
}

// AddStopListener registers l to run once on Engine STOPPED.
func (h *Handler) AddStopListener(l observe.StopListener) { h.stopListeners = append(h.stopListeners, l) }

// LatencyRecorder exposes the global latency recorder, e.g. for a
// snapshot task.
func (h *Handler) LatencyRecorder() *stats.Recorder { return h.latency }

// ResponseTimeRecorder exposes the global response-time recorder.
func (h *Handler) ResponseTimeRecorder() *stats.Recorder { return h.responseTime }

// PathRecorders exposes the per-path response-time recorder map.
func (h *Handler) PathRecorders() *stats.PathRecorders { return h.byPath }

// FailedRequests returns the number of requests counted as failed so far.
func (h *Handler) FailedRequests() int64 { return h.failedRequests.Load() }

// TotalRequests returns the number of requests observed so far.
func (h *Handler) TotalRequests() int64 { return h.totalRequests.Load() }

func (h *Handler) running() bool { return model.State(h.state.Load()) == model.StateRunning }

// OnBegin forwards to every RequestListener unconditionally: request
// listeners always see the raw request/response regardless of warmup.
func (h *Handler) OnBegin(req *http.Request) {
	for _, l := range h.requestListeners {
		h.safeCall(func() { l.OnBegin(req) })
	}
}

// OnCommit forwards the committed-request event.
func (h *Handler) OnCommit(req *http.Request) {
	for _, l := range h.requestListeners {
		h.safeCall(func() { l.OnCommit(req) })
	}
}

// OnSuccess forwards a successful round trip. The sender calls this
// directly, while the response body is still valid, rather than
// routing it through Record: by the time Record runs the response may
// already be drained and closed.
func (h *Handler) OnSuccess(req *http.Request, resp *http.Response) {
	for _, l := range h.requestListeners {
		h.safeCall(func() { l.OnSuccess(req, resp) })
	}
}

// OnFailure forwards a failed round trip.
func (h *Handler) OnFailure(req *http.Request, err error) {
	for _, l := range h.requestListeners {
		h.safeCall(func() { l.OnFailure(req, err) })
	}
}

// Outcome carries a terminal resource result from a Runner into the
// Result handler.
type Outcome struct {
	Info *model.ResourceInfo
	Err  error
}

// Record processes one terminal resource outcome: it records into the
// histograms and notifies resource-level listeners only while RUNNING,
// and never blocks tree-complete on a failed child.
func (h *Handler) Record(o Outcome) {
	h.totalRequests.Add(1)

	failed := o.Err != nil || (h.failOnStatusGE > 0 && o.Info.Status >= h.failOnStatusGE)
	if failed {
		h.failedRequests.Add(1)
	}

	if !h.running() {
		return
	}

	if !failed {
		latency := o.Info.Latency().Nanoseconds()
		responseTime := o.Info.ResponseTime().Nanoseconds()

		h.latency.Record(latency)
		h.responseTime.Record(responseTime)
		h.byPath.Get(pathOf(o.Info)).Record(responseTime)

		for _, l := range h.latencyListeners {
			h.safeCall(func() { l.OnLatencyValue(latency) })
		}
		for _, l := range h.responseTimeListeners {
			h.safeCall(func() { l.OnResponseTimeValue(pathOf(o.Info), responseTime) })
		}
	}

	for _, l := range h.nodeListeners {
		h.safeCall(func() { l.OnNode(o.Info) })
	}
}

// RecordTree notifies TreeListeners once a subtree root has reached a
// terminal outcome. Tree completion is never stalled by a failed
// descendant, and during warmup the callback is suppressed the same way
// NodeListener is.
func (h *Handler) RecordTree(root *model.ResourceInfo) {
	if !h.running() {
		return
	}
	for _, l := range h.treeListeners {
		h.safeCall(func() { l.OnTree(root) })
	}
}

// Stop invokes every StopListener exactly once. Called by the Engine
// when it reaches STOPPED.
func (h *Handler) Stop() {
	for _, l := range h.stopListeners {
		h.safeCall(l.OnLoadGeneratorStop)
	}
}

func pathOf(info *model.ResourceInfo) string {
	if info.Resource == nil {
		return ""
	}
	return info.Resource.Path
}

// safeCall runs fn and recovers any panic: listener exceptions are
// caught, logged, and do not affect the run.
func (h *Handler) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("observer panicked", zap.Any("recover", r))
		}
	}()
	fn()
}
