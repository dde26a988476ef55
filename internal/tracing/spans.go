package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/tessera/internal/component"
)

// Span attribute keys.
const (
	AttrComponent  = "component.name"
	AttrInstanceID = "component.instance_id"
	AttrKey        = "component.key"
	AttrState      = "component.state"
	AttrPhase      = "hook.phase"
	AttrHook       = "hook.name"
	AttrOrderLen   = "resolve.order_len"
	AttrBatchSize  = "build.batch_size"
	AttrSelector   = "selector.expr"
	AttrErrorClass = "error.class"
)

// Span names.
const (
	SpanResolve     = "component.resolve"
	SpanBuild       = "component.build"
	SpanMount       = "component.mount"
	SpanUpdate      = "component.update"
	SpanUnmount     = "component.unmount"
	SpanHook        = "component.hook"
	SpanCreateRoot  = "manager.create_root"
	SpanInsertChild = "manager.insert_child"
	SpanDestroy     = "manager.destroy"
	SpanReload      = "manager.reload"
)

// Event names.
const (
	EventTransition = "state.transition"
	EventRollback   = "rollback"
)

// Start opens an internal span. A nil tracer falls back to a no-op one.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = NoopTracer()
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// InstanceAttrs describes inst as span attributes.
func InstanceAttrs(inst *component.Instance) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrComponent, inst.Name()),
		attribute.String(AttrInstanceID, inst.ID),
		attribute.String(AttrKey, inst.Key),
	}
}

// Transition records a state change on the span in ctx.
func Transition(ctx context.Context, inst *component.Instance, to component.State) {
	trace.SpanFromContext(ctx).AddEvent(EventTransition, trace.WithAttributes(
		attribute.String(AttrComponent, inst.Name()),
		attribute.String(AttrKey, inst.Key),
		attribute.String(AttrState, to.String()),
	))
}

// End closes span, recording err when non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var ce *component.Error
		if errors.As(err, &ce) {
			span.SetAttributes(attribute.String(AttrErrorClass, ce.Class.String()))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
