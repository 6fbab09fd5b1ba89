package graph

import "context"

// Node is the compiled form every node kind reduces to (spec.md §4.4 "Node
// closure contract"). The compiler turns each NodeConfig into one of these
// regardless of kind; the engine never switches on kind again after compile.
//
// Grounded on the teacher's Node[S]/NodeFunc[S] adapter pair (graph/node.go)
// — kept the function-adapter idiom, dropped the generic state parameter
// since State is now a single concrete type.
type Node interface {
	// Execute runs the node's logic against state and returns the partial
	// updates it produced along with a control Signal. Execute must not
	// mutate state; it receives a Clone so in-place writes wouldn't be
	// observed reliably anyway.
	Execute(ctx context.Context, state State) (Updates, Signal)
}

// NodeFunc adapts a plain function to Node, mirroring the teacher's
// NodeFunc[S] adapter.
type NodeFunc func(ctx context.Context, state State) (Updates, Signal)

// Execute implements Node.
func (f NodeFunc) Execute(ctx context.Context, state State) (Updates, Signal) {
	return f(ctx, state)
}

// SignalKind discriminates the three outcomes a node's execution can signal,
// per spec.md §4.4 and the re-architecture note in §9 ("model interrupt/
// resume as an explicit sum type returned by node execution; no stack is
// captured").
type SignalKind int

const (
	// SignalContinue means the updates should be merged and the engine
	// should proceed to route outgoing edges normally.
	SignalContinue SignalKind = iota
	// SignalInterrupt means the node is cooperatively suspending; the
	// engine must persist a checkpoint and return control to the caller.
	SignalInterrupt
	// SignalError means the node raised after its own on_error policy
	// (executeWithPolicy) was applied; the engine stops the run with Err.
	SignalError
)

// Signal is the sum type `Continue | Interrupt(payload) | RaisedError(kind,
// detail)` from spec.md §4.4, represented as a tagged struct rather than an
// interface so callers can switch on Kind without a type assertion.
type Signal struct {
	Kind    SignalKind
	Payload any    // set when Kind == SignalInterrupt
	Err     *Error // set when Kind == SignalError
}

// Continue returns the normal-completion signal.
func Continue() Signal {
	return Signal{Kind: SignalContinue}
}

// InterruptSignal returns a signal requesting cooperative suspension with
// the given payload, to be surfaced to the caller as state[FieldInterrupt].
func InterruptSignal(payload any) Signal {
	return Signal{Kind: SignalInterrupt, Payload: payload}
}

// RaisedError returns a signal carrying a node-level failure that the
// engine returns as the run's error.
func RaisedError(err *Error) Signal {
	return Signal{Kind: SignalError, Err: err}
}
