package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/tessera/internal/component"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.Error(t, Config{Enabled: true, Exporter: "file"}.Validate())
	require.Error(t, Config{Exporter: "kafka"}.Validate())
	require.Error(t, Config{Exporter: "stdout", SampleRate: 2}.Validate())
	require.NoError(t, Config{Enabled: true, Exporter: "none"}.Validate())
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	require.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_FileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "traces.jsonl")
	p, err := NewProvider(Config{Enabled: true, Exporter: "file", FilePath: path})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := Start(context.Background(), p.Tracer(), SpanMount)
	End(span, nil)
	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec SpanRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, SpanMount, rec.Name)
	require.Equal(t, "OK", rec.Status)
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Exporter: "zipkin"})
	require.Error(t, err)
}

func TestFileExporter_FlattensTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	now := time.Now()
	stub := tracetest.SpanStub{
		Name:      SpanBuild,
		StartTime: now,
		EndTime:   now.Add(5 * time.Millisecond),
		Status:    sdktrace.Status{Code: codes.Error, Description: "boom"},
		Attributes: []attribute.KeyValue{
			attribute.String(AttrComponent, "app"),
		},
		Events: []sdktrace.Event{
			{Name: EventTransition, Time: now, Attributes: []attribute.KeyValue{
				attribute.String(AttrComponent, "app"),
				attribute.String(AttrKey, "main"),
				attribute.String(AttrState, "constructed"),
			}},
			{Name: EventRollback, Time: now},
		},
	}
	require.NoError(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.Error(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec SpanRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, "ERROR", rec.Status)
	require.Equal(t, "boom", rec.StatusMsg)
	require.Equal(t, "app", rec.Attributes[AttrComponent])
	require.Equal(t, []string{"app#main:constructed"}, rec.Transitions)
	require.Equal(t, []string{EventRollback}, rec.Events)
	require.InDelta(t, 5.0, rec.DurationMs, 0.01)
}

func TestEnd_RecordsErrorClass(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	inst := component.NewInstance(&component.Definition{Name: "app"}, "main")
	ctx, span := Start(context.Background(), tracer, SpanUpdate, InstanceAttrs(inst)...)
	Transition(ctx, inst, component.StateUpdating)
	End(span, component.Wrap(component.ClassLifecycle, "update", "app", errors.New("hook failed")))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 2, "transition event plus recorded error")

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "lifecycle", attrs[AttrErrorClass])
	require.Equal(t, "main", attrs[AttrKey])
}

func TestStart_NilTracer(t *testing.T) {
	ctx, span := Start(context.Background(), nil, SpanResolve)
	require.NotNil(t, ctx)
	End(span, nil)
}
