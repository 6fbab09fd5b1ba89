// Package emit is the pluggable observability sink a run's Engine reports
// superstep/node/checkpoint events to (spec.md §4.5 emit points;
// SPEC_FULL.md "Prometheus + OTel observability"). The engine only depends
// on the Emitter interface below — LogEmitter, BufferedEmitter, and
// OTelEmitter are interchangeable backends, and NullEmitter is the default
// when none is configured.
package emit

import "context"

// Emitter is the sink graph.Engine reports events to. Implementations must
// be safe for concurrent use (dispatch calls Emit from multiple node
// goroutines within a superstep) and must not block the run on a slow or
// unavailable backend.
type Emitter interface {
	// Emit reports a single event.
	Emit(event Event)

	// EmitBatch reports events in order; implementations that buffer can
	// use this to amortize a single flush over many events.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until every buffered event has been delivered. Called at
	// run completion so a buffering emitter doesn't lose the tail of a run.
	Flush(ctx context.Context) error
}
