// Package otel bridges the observe.Sink to OpenTelemetry tracing, so run
// synchronization activity is visible in any OTel-compatible backend.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/namewise/runwatch-go/observe"
)

const instrumentationName = "github.com/namewise/runwatch-go"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider. A nil
// provider falls back to a noop tracer.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	startTime := event.Timestamp
	_, span := s.tracer.Start(context.Background(), spanNameFor(event), trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("runwatch.event.kind", string(event.Kind)),
	}
	if event.RunID != "" {
		attrs = append(attrs, attribute.String("runwatch.run.id", event.RunID))
	}
	if event.CandidateID != "" {
		attrs = append(attrs, attribute.String("runwatch.candidate.id", event.CandidateID))
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("runwatch.event.name", event.Name))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("runwatch.status", string(event.Status)))
	}
	if event.Connection != "" {
		attrs = append(attrs, attribute.String("runwatch.connection", event.Connection))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("runwatch.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("runwatch.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("runwatch.attr."+k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	if event.Status == observe.StatusFailed {
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	} else if event.Status == observe.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindRun:
		return "runwatch.run"
	case observe.KindTransport:
		return "runwatch.transport"
	case observe.KindCache:
		return "runwatch.cache"
	case observe.KindParse:
		return "runwatch.parse"
	case observe.KindPoll:
		return "runwatch.poll"
	default:
		if event.Name != "" {
			return "runwatch." + event.Name
		}
		return "runwatch.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
