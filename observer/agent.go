package observer

import (
	"context"
	"time"

	hashiru "github.com/kunpai/AcadHASHIRU"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedAgent wraps an AgentBackend to emit OTEL lifecycle spans, metrics,
// and logs. The wrapper creates an agent.ask span for each delegation so the
// backend's own HTTP work appears as child activity via context propagation.
type ObservedAgent struct {
	inner hashiru.AgentBackend
	inst  *Instruments
	name  string
}

var _ hashiru.AgentBackend = (*ObservedAgent)(nil)

// WrapAgent returns an instrumented AgentBackend. The name is the registry
// name of the agent, not the base model.
func WrapAgent(inner hashiru.AgentBackend, name string, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, inst: inst, name: name}
}

// WrapAgentFactory instruments every backend the factory constructs, so
// agents created or restored by the registry emit spans without the caller
// wrapping each one.
func WrapAgentFactory(factory hashiru.AgentBackendFactory, inst *Instruments) hashiru.AgentBackendFactory {
	return func(desc hashiru.AgentDescriptor, typ hashiru.AgentType) (hashiru.AgentBackend, error) {
		backend, err := factory(desc, typ)
		if err != nil {
			return nil, err
		}
		return WrapAgent(backend, desc.Name, inst), nil
	}
}

func (o *ObservedAgent) Name() string { return o.inner.Name() }

func (o *ObservedAgent) Ask(ctx context.Context, prompt string) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.ask", trace.WithAttributes(
		AttrAgentName.String(o.name),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	reply, err := o.inner.Ask(ctx, prompt)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if ctx.Err() != nil && err != nil {
		status = "cancelled"
		span.SetStatus(codes.Error, "cancelled")
	} else if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrAgentStatus.String(status))

	o.inst.AgentExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrAgentName.String(o.name),
		attribute.String("status", status),
	))
	o.inst.AgentDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrAgentName.String(o.name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent ask completed"))
	rec.AddAttributes(
		otellog.String("agent.name", o.name),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("agent.status", status),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return reply, err
}

func (o *ObservedAgent) Drop(ctx context.Context) error {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.drop", trace.WithAttributes(
		AttrAgentName.String(o.name),
	))
	defer span.End()

	err := o.inner.Drop(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
