package plugin

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	xerrors "AgentHost/internal/errors"
)

const instrumentationName = "AgentHost/pkg/plugin"

// telemetry records spans and metrics for loads and dispatches using the
// global OpenTelemetry providers. Without an SDK configured these are no-ops.
type telemetry struct {
	tracer     trace.Tracer
	loads      metric.Int64Counter
	dispatches metric.Int64Counter
	duration   metric.Float64Histogram
}

func newTelemetry() *telemetry {
	meter := otel.Meter(instrumentationName)
	t := &telemetry{tracer: otel.Tracer(instrumentationName)}
	// Instrument creation only fails on invalid names; fall back to no-ops.
	var err error
	if t.loads, err = meter.Int64Counter("agenthost.agent.loads",
		metric.WithDescription("Agent load attempts by outcome")); err != nil {
		t.loads = nil
	}
	if t.dispatches, err = meter.Int64Counter("agenthost.agent.dispatches",
		metric.WithDescription("Commands dispatched to agents by outcome")); err != nil {
		t.dispatches = nil
	}
	if t.duration, err = meter.Float64Histogram("agenthost.agent.dispatch.duration",
		metric.WithDescription("Command dispatch latency"), metric.WithUnit("s")); err != nil {
		t.duration = nil
	}
	return t
}

func (t *telemetry) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return string(xerrors.CodeOf(err))
}

func (t *telemetry) endLoad(ctx context.Context, span trace.Span, err error) {
	outcome := outcomeOf(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, outcome)
	}
	span.End()
	if t.loads != nil {
		t.loads.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (t *telemetry) endDispatch(ctx context.Context, span trace.Span, agent string, failed bool, elapsed time.Duration) {
	outcome := "success"
	if failed {
		outcome = "error"
		span.SetStatus(codes.Error, "command failed")
	} else {
		span.SetStatus(codes.Ok, outcome)
	}
	span.End()
	attrs := metric.WithAttributes(attribute.String("agent", agent), attribute.String("outcome", outcome))
	if t.dispatches != nil {
		t.dispatches.Add(ctx, 1, attrs)
	}
	if t.duration != nil {
		t.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
