package graph

import (
	"context"

	"github.com/corewald/flowgraph/graph/config"
)

// PythonFunc is a host-language callable registered by name for `python`
// nodes, per spec.md §4.6 — same error model as Tool.
type PythonFunc func(ctx context.Context, args map[string]any) (any, error)

// RunSubgraphFunc invokes a named child graph and returns its final state
// (or, if the child suspended, the interrupt payload alongside the
// pre-suspend state). Implemented by Engine.runSubgraph (set by NewEngine); node compilation
// only needs the function value to avoid an import cycle between the node
// compiler and the engine.
type RunSubgraphFunc func(ctx context.Context, graphPath string, mode config.SubgraphMode, childState State, parentThreadID string) (finalState State, interruptPayload any, err error)

// Runtime bundles every external collaborator a compiled node closure may
// call into, per spec.md §6 ("External interfaces") and §5 ("shared
// resources... the engine owns the cache; providers are created lazily").
// One Runtime is built per Engine and shared by every compiled node.
type Runtime struct {
	Prompt  PromptExecutor
	Tools   map[string]Tool
	Pythons map[string]PythonFunc

	// ChatClient resolves a cached LLMClient for (provider, model),
	// honoring the selection policy in spec.md §6 ("explicit argument >
	// node metadata > graph defaults > process-level environment
	// default"). Supplied by the embedder when building the Runtime; the
	// engine does not set it.
	ChatClient func(provider, model string) (LLMClient, error)

	Defaults       config.PromptDefaults
	ExecutionDefaults config.ExecutionDefaults

	RunSubgraph RunSubgraphFunc
}

type ctxKey int

const ctxKeyThreadID ctxKey = iota

func contextWithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ctxKeyThreadID, threadID)
}

func threadIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyThreadID).(string); ok {
		return v
	}
	return ""
}

func effectiveMaxMapItems(cfgMax, runtimeMax int) int {
	limit := 100
	if runtimeMax > 0 && runtimeMax < limit {
		limit = runtimeMax
	}
	if cfgMax > 0 && cfgMax < limit {
		limit = cfgMax
	}
	return limit
}
