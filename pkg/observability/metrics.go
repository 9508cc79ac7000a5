package observability

import (
	"context"
	"strconv"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for saga executions.
type Metrics struct {
	sagaEvents    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepFailures  *prometheus.CounterVec
	compensations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sagaEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sagaflow_saga_events_total",
				Help: "Saga lifecycle events by saga and event type.",
			},
			[]string{"saga", "event"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sagaflow_step_duration_seconds",
				Help:    "Duration of step phases: local invocations, request publishing and reply handling.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"saga", "step", "remote"},
		),
		stepFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sagaflow_step_failures_total",
				Help: "Step phases that ended in an error.",
			},
			[]string{"saga", "step"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sagaflow_compensations_total",
				Help: "Compensations run, by outcome.",
			},
			[]string{"saga", "result"},
		),
	}

	for _, c := range []prometheus.Collector{m.sagaEvents, m.stepDuration, m.stepFailures, m.compensations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	saga := func(ctx context.Context, e *domain.SagaEvent) {
		m.sagaEvents.WithLabelValues(e.SagaName, string(e.Type)).Inc()
	}

	return domain.LifecycleHooks{
		OnSagaStart:  saga,
		OnSagaPause:  saga,
		OnSagaFinish: saga,
		OnSagaFail:   saga,
		OnStepLeave: func(ctx context.Context, e *domain.StepEvent) {
			step := strconv.Itoa(e.Step)
			m.stepDuration.WithLabelValues(e.SagaName, step, strconv.FormatBool(e.Remote)).Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.stepFailures.WithLabelValues(e.SagaName, step).Inc()
			}
		},
		OnStepCompensate: func(ctx context.Context, e *domain.StepEvent) {
			result := "ok"
			if e.Err != nil {
				result = "error"
			}
			m.compensations.WithLabelValues(e.SagaName, result).Inc()
		},
	}
}
