package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value of the data point carrying all attrs.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

// ── instruments ──────────────────────────────────────────────────────────────

func TestRecordTurn(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordTurn(ctx, "faq", 20*time.Millisecond)
	m.RecordTurn(ctx, "faq", 30*time.Millisecond)
	m.RecordTurn(ctx, "fallback", time.Millisecond)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "replica.turns", attribute.String("stage", "faq")); got != 2 {
		t.Errorf("faq turns = %d, want 2", got)
	}
	if got := sumFor(t, rm, "replica.turns", attribute.String("stage", "fallback")); got != 1 {
		t.Errorf("fallback turns = %d, want 1", got)
	}

	met := findMetric(rm, "replica.turn.duration")
	if met == nil {
		t.Fatal("turn duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("duration samples = %d, want 3", count)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordDispatch(ctx, "buy_pizza", "handled")
	m.RecordDispatch(ctx, "buy_pizza", "handled")
	m.RecordDispatch(ctx, "buy_pizza", "declined")
	m.RecordCollaboratorError(ctx, "nlu")
	m.RecordBreakerTransition(ctx, "llm/openai", "open")
	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	tests := []struct {
		name  string
		attrs []attribute.KeyValue
		want  int64
	}{
		{"replica.order.dispatches", []attribute.KeyValue{attribute.String("anchor", "buy_pizza"), attribute.String("outcome", "handled")}, 2},
		{"replica.order.dispatches", []attribute.KeyValue{attribute.String("anchor", "buy_pizza"), attribute.String("outcome", "declined")}, 1},
		{"replica.collaborator.errors", []attribute.KeyValue{attribute.String("collaborator", "nlu")}, 1},
		{"replica.breaker.transitions", []attribute.KeyValue{attribute.String("breaker", "llm/openai"), attribute.String("to", "open")}, 1},
		{"replica.active_sessions", nil, 1},
	}
	for _, tt := range tests {
		if got := sumFor(t, rm, tt.name, tt.attrs...); got != tt.want {
			t.Errorf("%s%v = %d, want %d", tt.name, tt.attrs, got, tt.want)
		}
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	m := Discard()
	m.RecordTurn(context.Background(), "rules", time.Second)
	m.RecordDispatch(context.Background(), "x", "handled")
}
