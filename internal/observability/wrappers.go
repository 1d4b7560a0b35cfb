package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/sanduku/internal/tools"
)

// InstrumentedTool wraps a tools.Tool with metrics and tracing.
// The wrapper is transparent: schema, validation, and results pass
// through unchanged.
type InstrumentedTool struct {
	inner   tools.Tool
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedTool wraps a tool with observability. Either metrics
// or ts may be nil.
func NewInstrumentedTool(inner tools.Tool, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedTool {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedTool{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (t *InstrumentedTool) Name() string                { return t.inner.Name() }
func (t *InstrumentedTool) Description() string         { return t.inner.Description() }
func (t *InstrumentedTool) InputSchema() map[string]any { return t.inner.InputSchema() }
func (t *InstrumentedTool) ReadOnly() bool              { return t.inner.ReadOnly() }

func (t *InstrumentedTool) Validate(params map[string]any) error {
	return t.inner.Validate(params)
}

func (t *InstrumentedTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	name := t.inner.Name()

	if t.tracer != nil {
		var span trace.Span
		ctx, span = t.tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(
				attribute.String("tool.name", name),
				attribute.Bool("tool.read_only", t.inner.ReadOnly()),
			))
		defer span.End()
	}

	start := time.Now()
	res, err := t.inner.Execute(ctx, params)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if t.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case res != nil && !res.Success:
		status = "failed"
	}

	if t.metrics != nil {
		t.metrics.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		t.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(duration)
	}

	return res, err
}

// InstrumentRegistry returns a new registry in which every tool from src
// is wrapped with the given metrics and tracer. When both are nil, src is
// returned unchanged.
func InstrumentRegistry(src *tools.Registry, metrics *MetricsCollector, ts *TracerSetup) *tools.Registry {
	if metrics == nil && ts == nil {
		return src
	}
	wrapped := tools.NewRegistry()
	for _, tool := range src.All() {
		wrapped.Register(NewInstrumentedTool(tool, metrics, ts))
	}
	return wrapped
}

// Compile-time interface check.
var _ tools.Tool = (*InstrumentedTool)(nil)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
