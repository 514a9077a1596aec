package engine

import (
	"context"
	"crypto/tls"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/volcanion-company/loadgen-core/internal/domain"
	"github.com/volcanion-company/loadgen-core/internal/model"
	"github.com/volcanion-company/loadgen-core/internal/observe"
	"github.com/volcanion-company/loadgen-core/internal/result"
	"github.com/volcanion-company/loadgen-core/internal/transport"
)

// snapshotSpec is a snapshot task configuration recorded at build time.
// The actual *observe.SnapshotTask is constructed fresh in Begin, bound
// to that run's Result handler recorders, since each run gets its own
// recorders: the per-path map and histograms are run-scoped, not
// process-global.
type snapshotSpec struct {
	source       snapshotSource
	initialDelay time.Duration
	period       time.Duration
	listeners    []observe.SnapshotListener
}

type snapshotSource int

const (
	snapshotLatency snapshotSource = iota
	snapshotResponseTime
)

// WorkerGauge receives the active-worker-count update a run makes at
// start and at stop. *observe.PrometheusSink implements this.
type WorkerGauge interface {
	SetActiveWorkers(count int)
}

// Future is the handle Begin returns: it resolves once a run reaches a
// terminal state, either by completing its iterations/duration bound
// or by Interrupt. Future is safe to Wait on from multiple goroutines.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the run this Future represents has finished.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done returns a channel closed when the run finishes, for select loops.
func (f *Future) Done() <-chan struct{} { return f.done }

// Engine drives one workload against one endpoint. It is built only
// through Builder.Build, which validates configuration before any
// worker or client resource is allocated. An Engine instance is
// reusable across successive Begin calls; all per-run state resets
// between runs.
type Engine struct {
	cfg      model.EngineConfig
	workload model.Workload
	log      *zap.Logger

	runMu      sync.Mutex // serializes Begin/Interrupt against concurrent callers
	running    atomic.Bool
	state      atomic.Int32
	stop       atomic.Bool
	stopReason atomic.Pointer[string]

	cancel context.CancelFunc

	snapshotCancel  context.CancelFunc
	snapshotSpecs   []snapshotSpec
	warmupRemaining atomic.Int32

	slaMonitor  *slaMonitor
	workerGauge WorkerGauge
}

// newEngine is called only by Builder.Build.
func newEngine(cfg model.EngineConfig, workload model.Workload, log *zap.Logger, snapshotSpecs []snapshotSpec) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{cfg: cfg, workload: workload, log: log, snapshotSpecs: snapshotSpecs}
	e.state.Store(int32(model.StateConfigured))
	return e
}

// State returns the Engine's current lifecycle state.
func (e *Engine) State() model.State { return model.State(e.state.Load()) }

// SLAViolation returns the breach found by the most recently finished
// run's SLA thresholds, or nil if Workload.SLA was unset or every
// threshold held. Valid to call once the run's Future has resolved.
func (e *Engine) SLAViolation() error {
	if e.slaMonitor == nil {
		return nil
	}
	return e.slaMonitor.Violation()
}

// Begin starts a run. It is an idempotent guard: calling Begin while a
// run is already in flight returns ErrAlreadyRunning immediately. A
// second Begin after the previous run's Future resolved starts a
// fresh run over the same configuration, with the per-run Result
// handler reset.
func (e *Engine) Begin(ctx context.Context) (*Future, *result.Handler, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.running.CompareAndSwap(false, true) {
		return nil, nil, domain.ErrAlreadyRunning
	}

	e.state.Store(int32(model.StateStarted))
	e.stop.Store(false)
	e.stopReason.Store(nil)

	handler := result.New(&e.state, e.workload.FailOnStatusGE, e.log)

	// A transport that cannot be built ends this run through its Future.
	failStart := func(cause error) (*Future, *result.Handler, error) {
		e.state.Store(int32(model.StateStopped))
		e.running.Store(false)
		future := newFuture()
		future.resolve(domain.NewTransportStartError(string(e.cfg.Transport), cause))
		return future, handler, nil
	}

	builder, err := transport.ForTransport(e.cfg.Transport)
	if err != nil {
		return failStart(err)
	}
	roundTripper, err := builder.Build(e.cfg.Selectors, tlsConfigFor(e.cfg))
	if err != nil {
		return failStart(err)
	}
	client := &http.Client{Transport: roundTripper}
	sender := transport.NewHTTPClientSender(client, handler)

	e.slaMonitor = nil
	if e.workload.SLA != nil {
		e.slaMonitor = newSLAMonitor(e.workload.SLA, handler, e.log)
		handler.AddStopListener(e.slaMonitor)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	workerCount := e.cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = minInt(availableCores(), e.workload.Users)
	}

	if e.workerGauge != nil {
		e.workerGauge.SetActiveWorkers(workerCount)
	}

	ep := model.Endpoint{Scheme: e.cfg.Scheme, Host: e.cfg.Host, Port: e.cfg.Port}
	p := newPacer(e.workload)

	future := newFuture()

	snapshotCtx, snapshotCancel := context.WithCancel(context.Background())
	e.snapshotCancel = snapshotCancel
	for _, spec := range e.snapshotSpecs {
		recorder := handler.LatencyRecorder()
		if spec.source == snapshotResponseTime {
			recorder = handler.ResponseTimeRecorder()
		}
		task := observe.NewSnapshotTask(recorder, spec.initialDelay, spec.period, spec.listeners...)
		go task.Run(snapshotCtx)
	}

	if e.workload.Duration > 0 {
		go func() {
			select {
			case <-time.After(e.workload.Duration):
				e.interruptLocked("runFor bound reached")
			case <-runCtx.Done():
			}
		}()
	}

	if e.workload.WarmupIterations > 0 {
		e.state.Store(int32(model.StateWarming))
		e.warmupRemaining.Store(int32(workerCount))
	} else {
		e.state.Store(int32(model.StateRunning))
	}

	runners := make([]*Runner, workerCount)
	for i := range runners {
		runners[i] = newRunner(i, e.workload.Roots, ep, sender, handler, p, e.log,
			e.workload.WarmupIterations, e.workload.IterationsPerUser, e.onRunnerWarmedUp)
	}

	go e.drive(runCtx, runners, handler, future)

	return future, handler, nil
}

// onRunnerWarmedUp is called by each Runner exactly once, when it
// starts its first post-warmup iteration. Once every Runner has
// reported in, the Engine transitions STARTED/WARMING to RUNNING,
// which is what unblocks the Result handler's node/latency recording.
func (e *Engine) onRunnerWarmedUp() {
	if e.warmupRemaining.Add(-1) == 0 {
		e.state.Store(int32(model.StateRunning))
	}
}

func (e *Engine) drive(ctx context.Context, runners []*Runner, handler *result.Handler, future *Future) {
	var wg sync.WaitGroup
	errs := make(chan error, len(runners))

	for _, r := range runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			if err := r.run(ctx, &e.stop); err != nil {
				errs <- err
			}
		}(r)
	}

	wg.Wait()
	close(errs)

	e.state.Store(int32(model.StateStopped))
	handler.Stop()
	e.snapshotCancel()
	if e.workerGauge != nil {
		e.workerGauge.SetActiveWorkers(0)
	}
	e.running.Store(false)

	var firstErr error
	for err := range errs {
		if firstErr == nil {
			firstErr = err
		}
	}

	// e.stop is set by Interrupt (directly or via the runFor bound
	// firing). A Runner observing it at the top of its loop, rather
	// than through ctx cancellation, returns nil rather than an error,
	// so the stop flag itself is the authoritative cancellation signal.
	if e.stop.Load() {
		reason := "interrupt"
		if p := e.stopReason.Load(); p != nil {
			reason = *p
		}
		future.resolve(domain.NewCancellationError(reason))
		return
	}
	if firstErr != nil {
		future.resolve(domain.NewCancellationError(firstErr.Error()))
		return
	}
	future.resolve(nil)
}

// Interrupt requests cancellation of the in-flight run. Every Runner
// observes the stop flag at its next check; in-flight requests are
// cancelled through the client via ctx. The run's Future resolves with
// a CancellationError.
func (e *Engine) Interrupt() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.interruptLocked("interrupt")
}

func (e *Engine) interruptLocked(reason string) {
	if !e.running.Load() {
		return
	}
	e.state.Store(int32(model.StateInterrupting))
	e.stopReason.Store(&reason)
	e.stop.Store(true)
	if e.cancel != nil {
		e.cancel()
	}
}

// RunFor schedules an Interrupt after duration has elapsed; equivalent
// to setting Workload.Duration before Begin, exposed as a convenience
// for callers that decide the bound after construction.
func (e *Engine) RunFor(ctx context.Context, duration time.Duration) (*Future, *result.Handler, error) {
	e.workload.Duration = duration
	return e.Begin(ctx)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func availableCores() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}

func tlsConfigFor(cfg model.EngineConfig) *tls.Config {
	if cfg.Transport != model.TransportHTTP1TLS && cfg.Transport != model.TransportHTTP2TLS {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: cfg.TLSInsecureSkipVerify}
}
