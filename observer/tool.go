package observer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	hashiru "github.com/kunpai/AcadHASHIRU"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRunner wraps a hashiru.ToolRunner with OTEL instrumentation, so
// every sandboxed describe, run, and install is traced and counted.
type ObservedRunner struct {
	inner hashiru.ToolRunner
	inst  *Instruments
}

var _ hashiru.ToolRunner = (*ObservedRunner)(nil)

// WrapRunner returns an instrumented tool runner.
func WrapRunner(inner hashiru.ToolRunner, inst *Instruments) *ObservedRunner {
	return &ObservedRunner{inner: inner, inst: inst}
}

func (o *ObservedRunner) Describe(ctx context.Context, path string) (hashiru.ToolManifest, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.describe", trace.WithAttributes(
		AttrToolName.String(toolBase(path)),
		AttrToolMode.String("describe"),
	))
	defer span.End()

	manifest, err := o.inner.Describe(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return manifest, err
}

func (o *ObservedRunner) Run(ctx context.Context, path string, args json.RawMessage) (hashiru.ToolResult, error) {
	name := toolBase(path)
	ctx, span := o.inst.Tracer.Start(ctx, "tool.run", trace.WithAttributes(
		AttrToolName.String(name),
		AttrToolMode.String("run"),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Run(ctx, path, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.Status == hashiru.StatusError {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrToolStatus.String(status))

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

func (o *ObservedRunner) Install(ctx context.Context, pkg string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.install", trace.WithAttributes(
		attribute.String("tool.dependency", pkg),
	))
	defer span.End()

	err := o.inner.Install(ctx, pkg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func toolBase(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
