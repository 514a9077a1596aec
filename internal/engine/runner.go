package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/volcanion-company/loadgen-core/internal/model"
	"github.com/volcanion-company/loadgen-core/internal/result"
)

// runnerState is the per-Runner lifecycle: IDLE → WARMING → RUNNING,
// then DONE when the loop ends normally (iteration bound reached or stop
// flag seen), or DRAINING when ctx cancellation cuts it short. DRAINING
// is final; a Runner never moves from DRAINING to DONE.
type runnerState int32

const (
	runnerIdle runnerState = iota
	runnerWarming
	runnerRunning
	runnerDraining
	runnerDone
)

// Runner drives one worker's sequence of iterations through its own
// HTTP client. Iterations are strictly sequential for a single Runner;
// the roots of the profile are processed in declared order within an
// iteration.
type Runner struct {
	id      int
	roots   []*model.Resource
	ep      model.Endpoint
	sender  model.Sender
	handler *result.Handler
	pacer   *pacer
	log     *zap.Logger

	sessionID string
	state     atomic.Int32

	warmupIterations  int
	iterationsPerUser int // 0 means unbounded, stop only on stop flag / duration

	onWarmedUp func() // called exactly once, when warmup iterations complete
}

// newRunner builds a Runner bound to one worker slot. The session
// cookie value is model.NewSessionID's per-Runner nanosecond timestamp
// with a short uuid suffix.
func newRunner(id int, roots []*model.Resource, ep model.Endpoint, sender model.Sender, handler *result.Handler, p *pacer, log *zap.Logger, warmupIterations, iterationsPerUser int, onWarmedUp func()) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		id:                id,
		roots:             roots,
		ep:                ep,
		sender:            sender,
		handler:           handler,
		pacer:             p,
		log:               log.With(zap.Int("runner_id", id)),
		sessionID:         model.NewSessionID(time.Now()),
		warmupIterations:  warmupIterations,
		iterationsPerUser: iterationsPerUser,
		onWarmedUp:        onWarmedUp,
	}
	r.state.Store(int32(runnerIdle))
	return r
}

// issueHandler adapts the Runner's result.Handler into the narrower
// model.IssueHandler the tree-walking logic in internal/model expects.
type issueHandler struct {
	runner *Runner
}

func (ih issueHandler) OnNode(info *model.ResourceInfo) {
	ih.runner.handler.Record(result.Outcome{Info: info, Err: info.Err})
}

func (ih issueHandler) OnTree(root *model.ResourceInfo) {
	ih.runner.handler.RecordTree(root)
}

// run executes iterations until the stop flag is set, ctx is cancelled,
// or iterationsPerUser is reached, whichever comes first. stop carries
// the Engine-wide cooperative cancellation signal independently of ctx
// so a Runner can distinguish "asked to stop" from "request timed out".
func (r *Runner) run(ctx context.Context, stop *atomic.Bool) error {
	handler := issueHandler{runner: r}

	for i := 0; r.iterationsPerUser == 0 || i < r.warmupIterations+r.iterationsPerUser; i++ {
		if stop.Load() {
			break
		}
		select {
		case <-ctx.Done():
			r.log.Debug("runner observed context cancellation")
			r.state.Store(int32(runnerDraining))
			return ctx.Err()
		default:
		}

		if i < r.warmupIterations {
			r.state.Store(int32(runnerWarming))
		} else {
			if i == r.warmupIterations && r.warmupIterations > 0 && r.onWarmedUp != nil {
				r.onWarmedUp()
			}
			r.state.Store(int32(runnerRunning))
		}

		for _, root := range r.roots {
			model.Issue(ctx, root, r.ep, r.sessionID, r.sender, handler)

			if root.ThinkTimeMs > 0 {
				if err := sleepThinkTime(ctx, stop, time.Duration(root.ThinkTimeMs)*time.Millisecond); err != nil {
					r.state.Store(int32(runnerDraining))
					return err
				}
			}
		}

		if r.pacer != nil {
			if err := r.pacer.wait(ctx); err != nil {
				r.state.Store(int32(runnerDraining))
				return err
			}
		}
	}

	r.state.Store(int32(runnerDone))
	return nil
}

// thinkTimePollInterval bounds how long a think-time sleep can overshoot
// a stop request by.
const thinkTimePollInterval = 50 * time.Millisecond

// sleepThinkTime pauses for d, waking early on ctx cancellation or a
// stop request so think time never holds up a shutdown.
func sleepThinkTime(ctx context.Context, stop *atomic.Bool, d time.Duration) error {
	remaining := d
	for remaining > 0 {
		wait := remaining
		if wait > thinkTimePollInterval {
			wait = thinkTimePollInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		remaining -= wait
		if stop.Load() {
			return nil
		}
	}
	return nil
}
