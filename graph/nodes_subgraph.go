package graph

import (
	"context"

	"github.com/corewald/flowgraph/graph/config"
)

// compileSubgraph builds the Node closure for `type: subgraph`, per
// spec.md §4.5 "Subgraphs": `invoke` mode maps parent state into a fresh
// child state and projects results back; `direct` mode runs the child
// inline against a clone of the parent state, merging everything back.
func compileSubgraph(cfg *config.NodeConfig, rt *Runtime) Node {
	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		var childState State
		if cfg.Mode == config.SubgraphDirect {
			childState = state.Clone()
		} else {
			childState = State{}
			for parentKey, childKey := range cfg.InputMapping {
				if v, ok := state.Get(parentKey); ok {
					childState[childKey] = v
				}
			}
		}

		finalState, interruptPayload, err := rt.RunSubgraph(ctx, cfg.Graph, cfg.Mode, childState, threadIDFromContext(ctx))
		if err != nil {
			return nil, RaisedError(WrapError(ErrNodeError, cfg.Name, err))
		}

		updates := Updates{}
		if interruptPayload != nil {
			if cfg.Mode == config.SubgraphDirect {
				for k, v := range finalState {
					updates[k] = v
				}
			} else {
				for childKey, parentKey := range cfg.InterruptOutputMapping {
					if v, ok := finalState.Get(childKey); ok {
						updates[parentKey] = v
					}
				}
			}
			return updates, InterruptSignal(interruptPayload)
		}

		if cfg.Mode == config.SubgraphDirect {
			for k, v := range finalState {
				updates[k] = v
			}
		} else {
			for childKey, parentKey := range cfg.OutputMapping {
				if v, ok := finalState.Get(childKey); ok {
					updates[parentKey] = v
				}
			}
		}
		return updates, Continue()
	})
}
