package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each Event into an instantaneous OpenTelemetry span:
// name is event.Msg, attributes carry RunID/Step/NodeID plus Meta, and the
// span's status is set to error when Meta["error"] is present. Node
// dispatch concurrency is additionally surfaced via the "step_id"/
// "order_key"/"attempt" Meta keys, when a caller sets them, as
// flowgraph.step_id/order_key/attempt attributes — useful for correlating
// concurrent node spans within one superstep and retry attempts across them.
type OTelEmitter struct {
	tracer trace.Tracer
	spans  []trace.Span
}

// NewOTelEmitter builds an OTelEmitter over tracer (e.g.
// otel.Tracer("flowgraph")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{
		tracer: tracer,
		spans:  make([]trace.Span, 0),
	}
}

// Emit starts and immediately ends a span for event — events are points in
// time, not durations, so there is no open span to later close.
func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)
	o.addConcurrencyAttributes(span, event.Meta)

	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// EmitBatch starts and ends one span per event; the configured span
// processor is responsible for batching the actual export.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)

		o.addStandardAttributes(span, event)
		o.addMetadataAttributes(span, event.Meta)
		o.addConcurrencyAttributes(span, event.Meta)

		if err, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, err)
			span.RecordError(fmt.Errorf("%s", err))
		}

		span.End()
	}

	return nil
}

// Flush calls ForceFlush on the global tracer provider, if it supports
// flushing, so a batch span processor's buffered spans reach the exporter
// before a run's caller returns.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}

	return nil
}

// addStandardAttributes adds the fields every event carries.
func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("flowgraph.run_id", event.RunID),
		attribute.Int("flowgraph.step", event.Step),
		attribute.String("flowgraph.node_id", event.NodeID),
	)
}

// addMetadataAttributes converts event.Meta to span attributes, mapping the
// cost/latency keys (tokens_in, tokens_out, cost_usd, latency_ms, model),
// when an event carries them, to flowgraph.* semantic-convention-style
// names. The engine's own events carry none of these keys.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	if meta == nil {
		return
	}

	for key, value := range meta {
		if key == "step_id" || key == "order_key" || key == "attempt" {
			continue
		}

		attrKey := key
		switch key {
		case "tokens_in":
			attrKey = "flowgraph.llm.tokens_in"
		case "tokens_out":
			attrKey = "flowgraph.llm.tokens_out"
		case "cost_usd":
			attrKey = "flowgraph.llm.cost_usd"
		case "latency_ms":
			attrKey = "flowgraph.node.latency_ms"
		case "model":
			attrKey = "flowgraph.llm.model"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}

// addConcurrencyAttributes surfaces the per-dispatch step_id/order_key/
// attempt Meta keys a caller may set to correlate concurrent node spans
// within one superstep and retry attempts across them.
func (o *OTelEmitter) addConcurrencyAttributes(span trace.Span, meta map[string]interface{}) {
	if meta == nil {
		return
	}

	if stepID, ok := meta["step_id"].(string); ok {
		span.SetAttributes(attribute.String("flowgraph.step_id", stepID))
	}

	if orderKey, ok := meta["order_key"].(string); ok {
		span.SetAttributes(attribute.String("flowgraph.order_key", orderKey))
	}

	if attempt, ok := meta["attempt"].(int); ok {
		span.SetAttributes(attribute.Int("flowgraph.attempt", attempt))
	} else if attempt, ok := meta["attempt"].(int64); ok {
		span.SetAttributes(attribute.Int64("flowgraph.attempt", attempt))
	}
}
