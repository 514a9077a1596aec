// Package observe defines the closed set of observer callback shapes the
// Result handler dispatches to, plus a few concrete, pluggable sinks
// (Prometheus, OpenTelemetry tracing, periodic snapshot reporting) that
// implement them. Listeners are value-semantics interfaces selected
// explicitly by the caller, not a class hierarchy the dispatcher
// switches on.
package observe

import (
	"net/http"

	"github.com/volcanion-company/loadgen-core/internal/model"
)

// RequestListener observes the raw request/response lifecycle of every
// resource occurrence, regardless of Engine state (warmup included).
type RequestListener interface {
	OnBegin(req *http.Request)
	OnCommit(req *http.Request)
	OnSuccess(req *http.Request, resp *http.Response)
	OnFailure(req *http.Request, err error)
}

// NodeListener is notified when a single resource completes. It is only
// invoked while the Engine is RUNNING (warmup iterations suppress it).
type NodeListener interface {
	OnNode(info *model.ResourceInfo)
}

// NodeListenerFunc adapts a function to a NodeListener.
type NodeListenerFunc func(info *model.ResourceInfo)

// OnNode implements NodeListener.
func (f NodeListenerFunc) OnNode(info *model.ResourceInfo) { f(info) }

// TreeListener is notified exactly once when a subtree root completes,
// strictly after every NodeListener call for that subtree's descendants.
type TreeListener interface {
	OnTree(root *model.ResourceInfo)
}

// TreeListenerFunc adapts a function to a TreeListener.
type TreeListenerFunc func(root *model.ResourceInfo)

// OnTree implements TreeListener.
func (f TreeListenerFunc) OnTree(root *model.ResourceInfo) { f(root) }

// LatencyListener is a hot-path sample sink for the global latency
// recorder's raw values.
type LatencyListener interface {
	OnLatencyValue(nanos int64)
}

// ResponseTimeListener is a hot-path sample sink for response-time
// values, both global and per-path.
type ResponseTimeListener interface {
	OnResponseTimeValue(path string, nanos int64)
}

// StopListener is the terminal callback invoked once the Engine reaches
// STOPPED, giving a sink the chance to flush and release resources.
type StopListener interface {
	OnLoadGeneratorStop()
}
