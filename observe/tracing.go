// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/creachadair/esl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of spans recorded by Tracing.
const TracerName = "github.com/creachadair/esl"

// Tracing is an esl.Observer that records OpenTelemetry spans for resolved
// commands and channel lifecycles. Each ring group attempt gets a span too.
//
// Observer notifications arrive after the fact, so each span is recorded
// with explicit start and end timestamps.
type Tracing struct {
	esl.NopObserver
	tracer trace.Tracer
}

// NewTracing constructs a Tracing observer using tp. If tp == nil, the global
// tracer provider is used.
func NewTracing(tp trace.TracerProvider) *Tracing {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{tracer: tp.Tracer(TracerName)}
}

func (t *Tracing) record(name string, start, end time.Time, err error, attrs ...attribute.KeyValue) {
	_, span := t.tracer.Start(context.Background(), name,
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End(trace.WithTimestamp(end))
}

// CommandDone implements part of esl.Observer.
func (t *Tracing) CommandDone(cmd *esl.Command, _ *esl.Event, err error, elapsed time.Duration) {
	end := time.Now()
	attrs := []attribute.KeyValue{attribute.String("esl.command", commandLabel(cmd))}
	if cmd.JobUUID != "" {
		attrs = append(attrs, attribute.String("esl.job_uuid", cmd.JobUUID))
	}
	t.record("esl "+commandLabel(cmd), end.Add(-elapsed), end, err, attrs...)
}

// StateChanged implements part of esl.Observer. Only the terminal transition
// of a channel is recorded.
func (t *Tracing) StateChanged(ch *esl.Channel, from, to esl.State) {
	if to != esl.StateHangup {
		return
	}
	now := time.Now()
	t.record("esl channel hangup", now, now, nil,
		attribute.String("esl.uuid", ch.UUID()),
		attribute.String("esl.dial_path", ch.DialPath()),
		attribute.String("esl.from_state", from.String()),
		attribute.String("esl.hangup_cause", ch.HangupCause()),
	)
}

// AttemptDone implements part of esl.Observer.
func (t *Tracing) AttemptDone(a esl.Attempt) {
	end := time.Now()
	t.record("esl ring "+a.Mode, end.Add(-a.Elapsed), end, a.Err,
		attribute.String("esl.ring.mode", a.Mode),
		attribute.StringSlice("esl.ring.destinations", a.Destinations),
		attribute.Int("esl.ring.originated", a.Originated),
		attribute.String("esl.ring.winner", a.Winner),
		attribute.String("esl.ring.outcome", outcome(a)),
	)
}

// TraceConfig describes an OTLP trace exporter.
type TraceConfig struct {
	Endpoint    string // host:port of the OTLP/HTTP collector
	Insecure    bool   // use plain HTTP
	ServiceName string // default "esl"
}

// NewTracerProvider constructs a tracer provider that exports spans over
// OTLP/HTTP as described by cfg. The caller must shut down the provider.
func NewTracerProvider(ctx context.Context, cfg TraceConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	name := cfg.ServiceName
	if name == "" {
		name = "esl"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}
