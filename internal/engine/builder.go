package engine

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/volcanion-company/loadgen-core/internal/domain"
	"github.com/volcanion-company/loadgen-core/internal/model"
	"github.com/volcanion-company/loadgen-core/internal/observe"
)

var validate = validator.New()

// Builder assembles an Engine from a Workload and an EngineConfig.
// Validation runs entirely inside Build, before any worker, client, or
// recorder is allocated: a ConfigurationError means the Engine is never
// created.
type Builder struct {
	workload  model.Workload
	cfg       model.EngineConfig
	log       *zap.Logger
	snapshots []snapshotSpec

	workerGauge WorkerGauge
}

// NewBuilder starts a Builder with zero-value Workload/EngineConfig;
// use the With* methods to fill them in before Build.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithWorkload sets the resource profile and run-shape knobs.
func (b *Builder) WithWorkload(w model.Workload) *Builder {
	b.workload = w
	return b
}

// WithEndpoint sets the network endpoint and transport variant.
func (b *Builder) WithEndpoint(cfg model.EngineConfig) *Builder {
	b.cfg = cfg
	return b
}

// WithLogger attaches a logger; callers typically pass
// logger.Log.With(...) or logger.WithEngineID(id).
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithWorkerGauge attaches a WorkerGauge updated at Begin (with the
// resolved worker count) and at Stop (reset to 0).
func (b *Builder) WithWorkerGauge(g WorkerGauge) *Builder {
	b.workerGauge = g
	return b
}

// WithLatencySnapshot installs a periodic latency-histogram snapshot
// task, ticking every period starting at initialDelay.
func (b *Builder) WithLatencySnapshot(initialDelay, period time.Duration, listeners ...observe.SnapshotListener) *Builder {
	b.snapshots = append(b.snapshots, snapshotSpec{
		source: snapshotLatency, initialDelay: initialDelay, period: period, listeners: listeners,
	})
	return b
}

// WithResponseTimeSnapshot installs a periodic response-time-histogram
// snapshot task.
func (b *Builder) WithResponseTimeSnapshot(initialDelay, period time.Duration, listeners ...observe.SnapshotListener) *Builder {
	b.snapshots = append(b.snapshots, snapshotSpec{
		source: snapshotResponseTime, initialDelay: initialDelay, period: period, listeners: listeners,
	})
	return b
}

// Build validates the accumulated configuration and returns a ready
// Engine, or the first ConfigurationError found. Field errors from the
// validator are translated one-for-one into named ConfigurationErrors
// rather than leaking the validator's own error type.
func (b *Builder) Build() (*Engine, error) {
	if err := validateStruct(b.workload, "workload"); err != nil {
		return nil, err
	}
	if err := validateStruct(b.cfg, "endpoint"); err != nil {
		return nil, err
	}

	e := newEngine(b.cfg, b.workload, b.log, b.snapshots)
	e.workerGauge = b.workerGauge
	return e, nil
}

func validateStruct(v any, prefix string) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			first := fieldErrs[0]
			return domain.NewConfigurationError(prefix+"."+first.Field(), first.Tag())
		}
		return domain.NewConfigurationError(prefix, err.Error())
	}
	return nil
}
