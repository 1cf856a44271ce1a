// Package observe holds replica's OpenTelemetry instruments, the tracing
// helpers used around each turn, and the HTTP middleware of the API server.
//
// Instruments are created from an explicit [metric.MeterProvider] by
// [NewMetrics]; production code passes the provider installed by
// [InitProvider], tests pass one backed by a manual reader.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/MrWong99/replica"

// Metrics holds every instrument replica records to. The zero value is not
// usable; use [NewMetrics] or [Discard].
type Metrics struct {
	// TurnDuration is the wall time of one PushPhrase, by resolving stage.
	TurnDuration metric.Float64Histogram

	// Turns counts resolved turns by stage.
	Turns metric.Int64Counter

	// Dispatches counts order dispatches by anchor and outcome.
	Dispatches metric.Int64Counter

	// CollaboratorErrors counts failures of the NLU, scorers, language models
	// and the turn log by collaborator name.
	CollaboratorErrors metric.Int64Counter

	// ActiveSessions is the number of sessions currently held in memory.
	ActiveSessions metric.Int64UpDownCounter

	// BreakerTransitions counts circuit breaker state changes by breaker name
	// and target state.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration is recorded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

var turnBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var (
		met = &Metrics{}
		err error
	)
	if met.TurnDuration, err = m.Float64Histogram("replica.turn.duration",
		metric.WithDescription("Time to resolve one user phrase."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("replica.turns",
		metric.WithDescription("Resolved turns by stage."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("replica.order.dispatches",
		metric.WithDescription("Order dispatches by anchor and outcome."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorErrors, err = m.Int64Counter("replica.collaborator.errors",
		metric.WithDescription("Failures of turn-time collaborators."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("replica.active_sessions",
		metric.WithDescription("Sessions held in memory."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("replica.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("replica.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Discard returns Metrics whose instruments record nothing.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordTurn records one resolved turn.
func (m *Metrics) RecordTurn(ctx context.Context, stage string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordDispatch records the outcome of one order dispatch.
func (m *Metrics) RecordDispatch(ctx context.Context, anchor, outcome string) {
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("anchor", anchor),
		attribute.String("outcome", outcome),
	))
}

// RecordCollaboratorError counts one failure of the named collaborator.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator string) {
	m.CollaboratorErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("collaborator", collaborator)))
}

// RecordBreakerTransition counts a breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("to", to),
	))
}
