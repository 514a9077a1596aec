package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/volcanion-company/loadgen-core/internal/model"
)

// spinThreshold is the remaining-wait floor below which pacer busy-spins
// instead of sleeping; ordinary OS schedulers cannot reliably deliver a
// time.Sleep shorter than this.
const spinThreshold = 2 * time.Millisecond

// rateSchedule computes the target engine-wide resource rate at a given
// elapsed duration into a run. RatePatternFixed holds ResourceRate
// constant; the others schedule it over RateSteps.
type rateSchedule struct {
	pattern model.RatePattern
	base    int
	steps   []model.RateStep
}

func newRateSchedule(w model.Workload) rateSchedule {
	return rateSchedule{pattern: w.RatePattern, base: w.ResourceRate, steps: w.RateSteps}
}

func (s rateSchedule) dynamic() bool {
	switch s.pattern {
	case model.RatePatternStep, model.RatePatternSpike, model.RatePatternRamp:
		return true
	default:
		return false
	}
}

// at returns the target rate at elapsed time into the run.
func (s rateSchedule) at(elapsed time.Duration) int {
	switch s.pattern {
	case model.RatePatternStep:
		return s.stepRate(elapsed)
	case model.RatePatternSpike:
		return s.spikeRate(elapsed)
	case model.RatePatternRamp:
		return s.rampRate(elapsed)
	default:
		return s.base
	}
}

// stepRate walks RateSteps in sequence, each held for its own Duration,
// then holds the last step's rate indefinitely.
func (s rateSchedule) stepRate(elapsed time.Duration) int {
	if len(s.steps) == 0 {
		return s.base
	}
	var cursor time.Duration
	for _, step := range s.steps {
		cursor += step.Duration
		if elapsed < cursor {
			return step.ResourceRate
		}
	}
	return s.steps[len(s.steps)-1].ResourceRate
}

// spikeRate holds steps[0] (base), switches to steps[1] (spike) for its
// Duration, then returns to steps[0] indefinitely.
func (s rateSchedule) spikeRate(elapsed time.Duration) int {
	if len(s.steps) < 2 {
		return s.base
	}
	base, spike := s.steps[0], s.steps[1]
	if elapsed < base.Duration {
		return base.ResourceRate
	}
	if elapsed < base.Duration+spike.Duration {
		return spike.ResourceRate
	}
	return base.ResourceRate
}

// rampRate linearly interpolates from steps[0].ResourceRate to
// steps[1].ResourceRate over steps[1].Duration, then holds the end rate.
func (s rateSchedule) rampRate(elapsed time.Duration) int {
	if len(s.steps) < 2 {
		return s.base
	}
	start, end := s.steps[0], s.steps[1]
	if end.Duration <= 0 || elapsed >= end.Duration {
		return end.ResourceRate
	}
	frac := float64(elapsed) / float64(end.Duration)
	return start.ResourceRate + int(frac*float64(end.ResourceRate-start.ResourceRate))
}

// pacer schedules iterations at a target rate with microsecond
// precision: plain time.Sleep is unreliable above roughly 1 kHz, so
// this type layers a coarse golang.org/x/time/rate token bucket (which
// already handles burst and multi-Runner sharing cheaply) with a
// busy-spin for the last slice of any wait below the scheduler's
// practical sleep granularity. For a scheduled (non-fixed) RatePattern,
// the limiter's rate is refreshed from the schedule on every wait.
type pacer struct {
	limiter  *rate.Limiter
	schedule rateSchedule
	start    time.Time
}

// newPacer builds a pacer for the workload's rate configuration, shared
// across every Runner of one Engine. A fixed pattern with a non-positive
// rate disables pacing entirely: wait returns immediately.
func newPacer(w model.Workload) *pacer {
	schedule := newRateSchedule(w)
	if !schedule.dynamic() && schedule.base <= 0 {
		return &pacer{}
	}
	initial := schedule.at(0)
	if initial <= 0 {
		initial = 1
	}
	return &pacer{
		limiter:  rate.NewLimiter(rate.Limit(initial), 1),
		schedule: schedule,
		start:    time.Now(),
	}
}

// wait blocks until the pacer's token bucket admits one more iteration,
// or ctx is cancelled. Below spinThreshold it busy-spins on time.Now
// rather than sleeping, trading CPU for sub-millisecond accuracy.
func (p *pacer) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}

	if p.schedule.dynamic() {
		target := p.schedule.at(time.Since(p.start))
		if target <= 0 {
			target = 1
		}
		p.limiter.SetLimit(rate.Limit(target))
	}

	reservation := p.limiter.Reserve()
	if !reservation.OK() {
		return nil
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	if delay <= spinThreshold {
		deadline := time.Now().Add(delay)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		return nil
	}

	timer := time.NewTimer(delay - spinThreshold)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	deadline := time.Now().Add(spinThreshold)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
