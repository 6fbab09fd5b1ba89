package emit

// Event is one observability record from a run: superstep dispatch,
// node completion, interrupt, checkpoint write, or the final outcome
// (spec.md §4.5's emit points; see graph/engine.go's Emitter.Emit calls).
type Event struct {
	// RunID is the thread ID the event belongs to.
	RunID string

	// Step is the superstep number (0-indexed). Zero for run-level events
	// that precede the first superstep.
	Step int

	// NodeID is the node that produced the event; empty for run-level
	// events (superstep_start, run_complete, node_error).
	NodeID string

	// Msg names the event, e.g. "superstep_start", "node_complete",
	// "interrupt", "checkpoint_saved", "loop_limit_exceeded".
	Msg string

	// Meta carries event-specific structured data: "error", "eligible",
	// "limit", "idempotency_key", "source".
	Meta map[string]interface{}
}
