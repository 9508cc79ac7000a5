package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/sagaflow/pkg/domain"
)

// LoggingHooks logs saga transitions at info and step phases at debug.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	saga := func(ctx context.Context, e *domain.SagaEvent) {
		level := slog.LevelInfo
		attrs := []any{"saga_id", e.ExecutionID, "saga", e.SagaName, "status", e.Status}
		if e.Err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, "err", e.Err)
		}
		logger.Log(ctx, level, string(e.Type), attrs...)
	}

	step := func(ctx context.Context, e *domain.StepEvent) {
		attrs := []any{
			"saga_id", e.ExecutionID,
			"saga", e.SagaName,
			"step", e.Step,
			"remote", e.Remote,
			"status", e.Status,
		}
		if e.Duration > 0 {
			attrs = append(attrs, "duration", e.Duration)
		}
		if e.Err != nil {
			attrs = append(attrs, "err", e.Err)
		}
		logger.DebugContext(ctx, string(e.Type), attrs...)
	}

	return domain.LifecycleHooks{
		OnSagaStart:      saga,
		OnSagaPause:      saga,
		OnSagaFinish:     saga,
		OnSagaFail:       saga,
		OnStepEnter:      step,
		OnStepLeave:      step,
		OnStepCompensate: step,
	}
}
