package emit

import "context"

// NullEmitter discards every event. The engine's default when no Emitter is
// configured (graph.NewEngine), so observability is opt-in rather than a
// required collaborator.
type NullEmitter struct{}

// NewNullEmitter constructs a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit is a no-op.
func (n *NullEmitter) Emit(event Event) {}

// EmitBatch is a no-op.
func (n *NullEmitter) EmitBatch(ctx context.Context, events []Event) error { return nil }

// Flush is a no-op.
func (n *NullEmitter) Flush(ctx context.Context) error { return nil }
