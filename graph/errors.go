// Package graph provides the core graph execution engine for flowgraph.
package graph

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the distinct error kinds a run can surface. These are
// kinds, not Go type names: every kind is carried by the single *Error type
// below so callers can always type-assert once and switch on Kind.
type ErrorKind string

const (
	// ErrInvalidConfig means load/validation failed; the run could not start.
	ErrInvalidConfig ErrorKind = "InvalidConfig"
	// ErrUnknownNode means an edge or loop limit referenced a nonexistent node.
	ErrUnknownNode ErrorKind = "UnknownNode"
	// ErrMissingRequirement means a node's requires field was absent or null.
	ErrMissingRequirement ErrorKind = "MissingRequirement"
	// ErrLoopLimitExceeded means a node was scheduled more times than its loop limit.
	ErrLoopLimitExceeded ErrorKind = "LoopLimitExceeded"
	// ErrRecursionExceeded means the superstep count exceeded recursion_limit.
	ErrRecursionExceeded ErrorKind = "RecursionExceeded"
	// ErrNodeError means node logic (LLM, tool, python) raised.
	ErrNodeError ErrorKind = "NodeError"
	// ErrExpressionError means a condition/value expression was invalid at runtime.
	ErrExpressionError ErrorKind = "ExpressionError"
	// ErrExecutionCancelled means the overall timeout tripped.
	ErrExecutionCancelled ErrorKind = "ExecutionCancelled"
	// ErrCheckpointError means a store read/write/serialization failure occurred.
	ErrCheckpointError ErrorKind = "CheckpointError"
	// ErrInterruptWithoutCheckpointer means an interrupt node was reached with no store configured.
	ErrInterruptWithoutCheckpointer ErrorKind = "InterruptWithoutCheckpointer"
	// ErrPathEscape means a data_files path resolved outside the config directory.
	ErrPathEscape ErrorKind = "PathEscape"
	// ErrMissingFile means a referenced file (prompt, data file, subgraph) did not exist.
	ErrMissingFile ErrorKind = "MissingFile"
)

// Error is the single error type for everything the engine and its
// collaborators raise. Node is empty for run-level errors (config
// validation, recursion limit, cancellation).
type Error struct {
	Kind   ErrorKind
	Node   string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.Node, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an *Error with the given kind and formatted detail.
func NewError(kind ErrorKind, node, format string, args ...any) *Error {
	return &Error{Kind: kind, Node: node, Detail: fmt.Sprintf(format, args...)}
}

// WrapError constructs an *Error wrapping cause.
func WrapError(kind ErrorKind, node string, cause error) *Error {
	d := ""
	if cause != nil {
		d = cause.Error()
	}
	return &Error{Kind: kind, Node: node, Detail: d, Cause: cause}
}

// KindOf extracts the ErrorKind from err, if err is (or wraps) an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ErrNoProgress indicates the frontier is empty but the run did not
// terminate, i.e. a deadlock: no edges fired and no node produced output.
var ErrNoProgress = errors.New("no progress: frontier empty without termination")
