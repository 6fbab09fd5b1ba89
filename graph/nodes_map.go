package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/corewald/flowgraph/graph/config"
)

// compileMapNode builds the Node closure for `type: map`, per spec.md §4.6
// and §5 ("Map fan-out cap"): evaluate `over`, spawn one concurrent
// sub-task per item (each seeing `{as: element, _map_index: i}`), and
// collect results into `collect` ordered by _map_index regardless of
// completion order.
//
// The sub-tasks here run inside a single superstep's single Node.Execute
// call rather than as independent engine-scheduled tasks; this keeps the
// Node closure contract (§4.4) intact while still honoring the "parallel
// task execution, deterministic merge" model from §5 at the scope of one
// map node. Recorded as an Open Question decision in DESIGN.md.
func compileMapNode(cfg *config.NodeConfig, rt *Runtime, subNode Node) Node {
	limit := effectiveMaxMapItems(cfg.MaxItems, rt.ExecutionDefaults.MaxMapItems)

	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		overVal, everr := resolveValue(cfg.Over, state)
		if everr != nil {
			return nil, RaisedError(everr)
		}
		items := toAnySlice(overVal)

		var truncationWarning string
		if len(items) > limit {
			truncationWarning = NewError(ErrNodeError, cfg.Name, "map fan-out truncated from %d to %d items", len(items), limit).Error()
			items = items[:limit]
		}

		if len(items) == 0 {
			updates := Updates{cfg.Collect: []any{}}
			if truncationWarning != "" {
				updates[FieldErrors] = []any{truncationWarning}
			}
			return updates, Continue()
		}

		results := make([]map[string]any, len(items))
		errs := make([]*Error, len(items))

		var wg sync.WaitGroup
		sem := make(chan struct{}, 8)
		for i, item := range items {
			wg.Add(1)
			go func(i int, item any) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				subState := state.Clone()
				if cfg.As != "" {
					subState[cfg.As] = item
				}
				subState[FieldMapIndex] = i

				updates, sig := subNode.Execute(ctx, subState)
				switch sig.Kind {
				case SignalError:
					errs[i] = sig.Err
					return
				case SignalInterrupt:
					errs[i] = NewError(ErrNodeError, cfg.Name, "interrupt inside a map sub-task is not supported")
					return
				}

				results[i] = normalizeMapResult(cfg, updates)
				results[i][FieldMapIndex] = i
			}(i, item)
		}
		wg.Wait()

		for _, e := range errs {
			if e != nil {
				return nil, RaisedError(e)
			}
		}

		collected := make([]any, len(results))
		for i, r := range results {
			collected[i] = r
		}
		sort.SliceStable(collected, func(i, j int) bool {
			return mapIndexOf(collected[i]) < mapIndexOf(collected[j])
		})

		updates := Updates{cfg.Collect: collected}
		if truncationWarning != "" {
			updates[FieldErrors] = []any{truncationWarning}
		}
		return updates, Continue()
	})
}

// normalizeMapResult copies a sub-node's Updates into a fresh map. Sub-node
// results are always Updates maps already keyed by the sub-node's state_key;
// an empty result with a state_key set becomes {state_key: nil}.
func normalizeMapResult(cfg *config.NodeConfig, updates Updates) map[string]any {
	if len(updates) == 0 && cfg.Node.StateKey != "" {
		return map[string]any{cfg.Node.StateKey: nil}
	}
	out := make(map[string]any, len(updates))
	for k, v := range updates {
		out[k] = v
	}
	return out
}

func toAnySlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}
