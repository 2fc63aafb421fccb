// Package otel configures OpenTelemetry tracing for the runner and wires it
// up purely by subscribing to internal/eventbus events — the runner and
// rpcsource packages publish events and know nothing about tracing.
package otel

import (
	"context"
	"sync"

	eventbus "github.com/arborfetch/arbor/internal/eventbus"
	events "github.com/arborfetch/arbor/internal/events"
	reqid "github.com/arborfetch/arbor/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers for the
// runner's RunStart/RunFinish/FetchDispatchStart/FetchDispatchFinish events
// and rpcsource's RPCCallStart/RPCCallFinish events.
// If endpoint is empty, no telemetry is configured and Setup is a no-op.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("arbor")}
	sub.register()

	return tp.Shutdown, nil
}

type rpcSpanKey struct {
	rid            int64
	source, method string
	target         string
}

type subscriber struct {
	tracer     trace.Tracer
	runSpans   sync.Map // rid -> trace.Span
	dispatchSp sync.Map // rid -> trace.Span
	rpcSpans   sync.Map // rpcSpanKey -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.RunStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "fetch.run")
		span.SetAttributes(attribute.Int64("fetch.run_id", e.RunID))
		s.runSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RunFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.runSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.FetchDispatchStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.runSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "fetch.dispatch")
		span.SetAttributes(attribute.Int("fetch.miss_count", e.Count))
		s.dispatchSp.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.FetchDispatchFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.dispatchSp.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RPCCallStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.dispatchSp.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		} else if v, ok := s.runSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "rpc.dispatch")
		span.SetAttributes(
			attribute.String("rpc.source", e.SourceName),
			attribute.String("rpc.method", e.Method),
			attribute.String("net.peer.name", e.Target),
		)
		// Keyed separately from dispatchSp so concurrent rpc calls within
		// one dispatch don't clobber each other's span.
		s.rpcSpans.Store(rpcSpanKey{rid, e.SourceName, e.Method, e.Target}, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RPCCallFinish) {
		rid, _ := reqid.FromContext(ctx)
		key := rpcSpanKey{rid, e.SourceName, e.Method, e.Target}
		v, ok := s.rpcSpans.LoadAndDelete(key)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}
