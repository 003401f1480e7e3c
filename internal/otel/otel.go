package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/querystore/internal/eventbus"
	events "github.com/hanpama/querystore/internal/events"
	reqid "github.com/hanpama/querystore/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches bus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(bus *eventbus.Bus, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
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

	unsubscribe := Register(bus, tp.Tracer("querystore"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span bookkeeping to bus using tracer. Each fetch of a
// query becomes a "graphql.query" span; HTTP round trips made on its behalf
// become "http.client" children.
func Register(bus *eventbus.Bus, tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register(bus)
}

type subscriber struct {
	tracer    trace.Tracer
	querySpan sync.Map // query id -> trace.Span
	httpSpans sync.Map // query id -> trace.Span
}

func (s *subscriber) end(id string, fn func(trace.Span)) {
	v, ok := s.querySpan.LoadAndDelete(id)
	if !ok {
		return
	}
	span := v.(trace.Span)
	if fn != nil {
		fn(span)
	}
	span.End()
}

func (s *subscriber) register(bus *eventbus.Bus) func() {
	unsubs := []func(){
		eventbus.Subscribe(bus, func(ctx context.Context, e events.QueryInit) {
			// A fresh fetch supersedes the previous one.
			s.end(e.ID, func(span trace.Span) {
				span.SetAttributes(attribute.Bool("graphql.superseded", true))
			})
			_, span := s.tracer.Start(ctx, "graphql.query")
			span.SetAttributes(
				attribute.String("graphql.query.id", e.ID),
				attribute.String("graphql.network_status", e.Status),
			)
			if e.LinkedID != "" {
				span.SetAttributes(attribute.String("graphql.fetch_more_for", e.LinkedID))
			}
			s.querySpan.Store(e.ID, span)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.QueryResult) {
			s.end(e.ID, func(span trace.Span) {
				span.SetAttributes(
					attribute.String("graphql.network_status", e.Status),
					attribute.Int("graphql.error_count", e.ErrorCount),
				)
			})
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.QueryError) {
			s.end(e.ID, func(span trace.Span) {
				span.SetAttributes(attribute.String("graphql.network_status", "error"))
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			})
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.QueryResolvedLocally) {
			if !e.Complete {
				return
			}
			s.end(e.ID, func(span trace.Span) {
				span.SetAttributes(
					attribute.String("graphql.network_status", e.Status),
					attribute.Bool("graphql.resolved_locally", true),
				)
			})
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.QueryStop) {
			s.end(e.ID, func(span trace.Span) {
				span.SetAttributes(attribute.Bool("graphql.stopped", true))
			})
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPFetchStart) {
			id, _ := reqid.FromContext(ctx)
			parent := ctx
			if v, ok := s.querySpan.Load(id); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
			_, span := s.tracer.Start(parent, "http.client", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				semconv.HTTPMethodKey.String("POST"),
				semconv.HTTPURLKey.String(e.URL),
				attribute.String("graphql.operation.name", e.OperationName),
			)
			s.httpSpans.Store(id, span)
		}),

		eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPFetchFinish) {
			id, _ := reqid.FromContext(ctx)
			v, ok := s.httpSpans.LoadAndDelete(id)
			if !ok {
				return
			}
			span := v.(trace.Span)
			if e.Status != 0 {
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			}
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
