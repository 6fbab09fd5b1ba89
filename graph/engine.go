package graph

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/corewald/flowgraph/graph/config"
	"github.com/corewald/flowgraph/graph/emit"
	"github.com/corewald/flowgraph/graph/expr"
)

// Options configures a single Engine, overriding the config's execution
// defaults where set (spec.md §4.5, §5).
type Options struct {
	TimeoutSeconds int
	RecursionLimit int
}

// RunResult is what Invoke/Resume return: either a suspended run (carrying
// the interrupt payload) or a completed one.
type RunResult struct {
	ThreadID          string
	State             State
	Interrupted       bool
	InterruptPayload  any
}

// GraphLoader resolves a subgraph path (relative to the parent graph's
// directory) to a compiled graph, used by subgraph nodes.
type GraphLoader func(path string) (*CompiledGraph, *Runtime, error)

// Engine runs one CompiledGraph's supersteps, per spec.md §4.5 "Execution
// Engine". Grounded on the teacher's Engine[S] (graph/engine.go): kept the
// superstep-barrier shape (dispatch concurrently, merge deterministically,
// checkpoint, route) and the per-run deterministic RNG seeded from the
// thread id, dropped the generic state parameter and the continuous
// priority-queue frontier in favor of the spec's simpler discrete-superstep
// frontier (a plain slice recomputed each step).
type Engine struct {
	Graph   *CompiledGraph
	Runtime *Runtime
	Store   CheckpointStore
	Options Options
	Loader  GraphLoader
	Emitter emit.Emitter
	Metrics *Metrics
}

// NewEngine constructs an Engine over a compiled graph. It sets
// rt.RunSubgraph to e.runSubgraph so subgraph nodes (compiled against the
// same rt pointer) can reach this engine's subgraph-invocation logic. A nil emitter
// defaults to emit.NewNullEmitter(), matching the teacher's pattern of
// emitting observability events at each superstep's dispatch, node
// completion, interrupt, and checkpoint-persist points.
func NewEngine(g *CompiledGraph, rt *Runtime, store CheckpointStore, opts Options, loader GraphLoader, emitter emit.Emitter) *Engine {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	e := &Engine{Graph: g, Runtime: rt, Store: store, Options: opts, Loader: loader, Emitter: emitter}
	rt.RunSubgraph = e.runSubgraph
	return e
}

func (e *Engine) recursionLimit() int {
	if e.Options.RecursionLimit > 0 {
		return e.Options.RecursionLimit
	}
	if e.Graph.Defaults.RecursionLimit > 0 {
		return e.Graph.Defaults.RecursionLimit
	}
	return 50
}

// Invoke starts a fresh run for threadID with the given input, merging it
// into a blank state via the schema (spec.md §4.5).
func (e *Engine) Invoke(ctx context.Context, threadID string, input State) (*RunResult, error) {
	state := e.Graph.Schema.Merge(State{}, Updates(input))
	frontier := e.startFrontier()
	return e.run(ctx, threadID, state, frontier, 0)
}

// Resume re-enters a suspended run, supplying value for the interrupt
// node's resume_key (spec.md §4.5 "Interrupts"). Requires a CheckpointStore.
func (e *Engine) Resume(ctx context.Context, threadID string, value any) (*RunResult, error) {
	if e.Store == nil {
		return nil, NewError(ErrInterruptWithoutCheckpointer, "", "cannot resume thread %q: no checkpoint store configured", threadID)
	}
	tuple, err := e.Store.Get(ctx, threadID)
	if err != nil {
		return nil, WrapError(ErrCheckpointError, "", err)
	}
	if tuple == nil {
		return nil, NewError(ErrCheckpointError, "", "no checkpoint found for thread %q", threadID)
	}

	state := tuple.Checkpoint.State.Clone()
	delete(state, FieldInterrupt)
	state[FieldResume] = value

	return e.run(ctx, threadID, state, tuple.Checkpoint.Frontier, tuple.Checkpoint.Superstep)
}

// Checkpoint snapshots the most recently persisted state for threadID under
// a user-assigned label, so CheckpointStore.List can later recover it as a
// named time-travel point distinct from the automatic per-superstep history
// (SPEC_FULL.md "Named checkpoints / time-travel"). It requires a prior
// Invoke/Resume to have persisted at least one checkpoint for the thread.
func (e *Engine) Checkpoint(ctx context.Context, threadID, label string) error {
	if e.Store == nil {
		return NewError(ErrCheckpointError, "", "cannot label a checkpoint for thread %q: no checkpoint store configured", threadID)
	}
	tuple, err := e.Store.Get(ctx, threadID)
	if err != nil {
		return WrapError(ErrCheckpointError, "", err)
	}
	if tuple == nil {
		return NewError(ErrCheckpointError, "", "no checkpoint found for thread %q", threadID)
	}

	// The idempotency key must differ from the snapshotted checkpoint's own
	// key (same threadID/superstep/frontier/state) or Put's duplicate guard
	// would silently drop this label as an already-committed repeat.
	key, err := computeIdempotencyKey(threadID, tuple.Checkpoint.Superstep, tuple.Checkpoint.Frontier, tuple.Checkpoint.State)
	if err != nil {
		return WrapError(ErrCheckpointError, "", err)
	}

	cp := tuple.Checkpoint
	cp.Label = label
	cp.Timestamp = time.Now()
	cp.IdempotencyKey = key + ":label:" + label

	if err := e.Store.Put(ctx, threadID, cp, CheckpointMetadata{Source: "label", Superstep: cp.Superstep}); err != nil {
		return WrapError(ErrCheckpointError, "", err)
	}
	return nil
}

func (e *Engine) startFrontier() []string {
	var names []string
	for _, edge := range e.Graph.Forward[config.Start] {
		names = append(names, edgeTargets(edge)...)
	}
	return names
}

// run is the superstep loop shared by Invoke and Resume.
func (e *Engine) run(ctx context.Context, threadID string, state State, frontier []string, superstep int) (*RunResult, error) {
	if len(frontier) == 0 {
		return nil, WrapError(ErrExecutionCancelled, "", ErrNoProgress)
	}

	if e.Options.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.Options.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	ctx = contextWithThreadID(ctx, threadID)

	rng := rand.New(rand.NewSource(rngSeedFor(threadID)))
	limit := e.recursionLimit()

	for len(frontier) > 0 {
		select {
		case <-ctx.Done():
			return nil, WrapError(ErrExecutionCancelled, "", ctx.Err())
		default:
		}

		eligible, routedWithoutExec, skipErrors, err := e.gateFrontier(state, frontier)
		if err != nil {
			return nil, err
		}
		if len(skipErrors) > 0 {
			state = e.Graph.Schema.Merge(state, Updates{FieldErrors: skipErrors})
		}

		if len(eligible) > 0 {
			loopInc := map[string]any{}
			for _, name := range eligible {
				loopInc[name] = 1
			}
			state = e.Graph.Schema.Merge(state, Updates{FieldLoopCounts: loopInc})
		}

		e.Emitter.Emit(emit.Event{
			RunID: threadID,
			Step:  superstep,
			Msg:   "superstep_start",
			Meta:  map[string]interface{}{"eligible": eligible},
		})

		taskResults, completed, interruptName, interruptPayload, err := e.dispatch(ctx, threadID, state, eligible)
		if err != nil {
			e.Emitter.Emit(emit.Event{
				RunID: threadID,
				Step:  superstep,
				Msg:   "node_error",
				Meta:  map[string]interface{}{"error": err.Error()},
			})
			return nil, err
		}

		for _, name := range orderedKeys(taskResults) {
			state = e.Graph.Schema.Merge(state, taskResults[name])
			e.Emitter.Emit(emit.Event{
				RunID:  threadID,
				Step:   superstep,
				NodeID: name,
				Msg:    "node_complete",
			})
		}
		completed = append(completed, routedWithoutExec...)

		if interruptName != "" {
			state = e.Graph.Schema.Merge(state, Updates{FieldInterrupt: interruptPayload})
			delete(state, FieldResume)
			e.Emitter.Emit(emit.Event{
				RunID:  threadID,
				Step:   superstep,
				NodeID: interruptName,
				Msg:    "interrupt",
			})
			if e.Store != nil {
				if perr := e.persist(ctx, threadID, state, frontier, superstep, "interrupt", rng); perr != nil {
					return nil, perr
				}
			} else {
				return nil, NewError(ErrInterruptWithoutCheckpointer, interruptName, "interrupt reached with no checkpoint store configured")
			}
			return &RunResult{ThreadID: threadID, State: state, Interrupted: true, InterruptPayload: interruptPayload}, nil
		}

		delete(state, FieldResume)

		superstep++
		if superstep > limit {
			e.Emitter.Emit(emit.Event{
				RunID: threadID,
				Step:  superstep,
				Msg:   "recursion_limit_exceeded",
				Meta:  map[string]interface{}{"limit": limit},
			})
			e.Metrics.IncrementLimitExceeded("recursion")
			return nil, NewError(ErrRecursionExceeded, "", "exceeded recursion_limit (%d)", limit)
		}

		next, nerr := e.nextFrontier(completed, state)
		if nerr != nil {
			return nil, nerr
		}

		if e.Store != nil {
			if perr := e.persist(ctx, threadID, state, next, superstep, "loop", rng); perr != nil {
				return nil, perr
			}
		}

		frontier = next
	}

	e.Emitter.Emit(emit.Event{
		RunID: threadID,
		Step:  superstep,
		Msg:   "run_complete",
	})
	return &RunResult{ThreadID: threadID, State: state}, nil
}

// gateFrontier applies the per-node eligibility checks from spec.md §4.5
// step 2: skip_if_exists (node is "completed" without executing),
// requires (node is skipped with a recorded error and does not route), and
// loop limit (fatal if exceeded). It returns the nodes that should actually
// execute plus the names of nodes that route forward without executing.
func (e *Engine) gateFrontier(state State, frontier []string) (eligible []string, routedWithoutExec []string, skipErrors []any, err error) {
	counts := LoopCounts(state)
	for _, name := range frontier {
		nc, ok := e.Graph.Configs[name]
		if !ok {
			return nil, nil, nil, NewError(ErrUnknownNode, name, "frontier references undeclared node")
		}

		if nc.SkipIfExists != nil && *nc.SkipIfExists {
			if key := outputKeyOf(nc); key != "" {
				if v, ok := state.Get(key); ok && v != nil {
					routedWithoutExec = append(routedWithoutExec, name)
					continue
				}
			}
		}

		var missingReq string
		for _, req := range nc.Requires {
			if v, ok := state.Get(req); !ok || v == nil {
				missingReq = req
				break
			}
		}
		if missingReq != "" {
			// Recorded as a skip with an error; does not route downstream.
			skipErr := NewError(ErrMissingRequirement, name, "requires %q, which is missing or null", missingReq)
			skipErrors = append(skipErrors, skipErr.Error())
			continue
		}

		limit := e.Graph.LoopLimits[name]
		if limit == 0 {
			limit = e.recursionLimit()
		}
		if counts[name]+1 > limit {
			e.Emitter.Emit(emit.Event{
				NodeID: name,
				Msg:    "loop_limit_exceeded",
				Meta:   map[string]interface{}{"limit": limit},
			})
			e.Metrics.IncrementLimitExceeded("loop")
			return nil, nil, nil, NewError(ErrLoopLimitExceeded, name, "scheduled more than loop_limits[%s]=%d times", name, limit)
		}

		eligible = append(eligible, name)
	}
	return eligible, routedWithoutExec, skipErrors, nil
}

// dispatch runs eligible nodes concurrently against a shared read-only
// state and waits for all to finish, raise, or request interrupt (spec.md
// §5 "Suspension points"). Each node sees its own Clone so none can observe
// a sibling's in-flight writes; updates are staged per task and returned
// for deterministic, caller-ordered merge.
func (e *Engine) dispatch(ctx context.Context, threadID string, state State, eligible []string) (results map[string]Updates, completed []string, interruptName string, interruptPayload any, err error) {
	results = make(map[string]Updates, len(eligible))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr *Error
	var firstInterruptName string
	var firstInterruptPayload any

	e.Metrics.UpdateInflightNodes(len(eligible))
	defer e.Metrics.UpdateInflightNodes(0)

	for _, name := range eligible {
		name := name
		node := e.Graph.Nodes[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			updates, sig := node.Execute(ctx, state.Clone())

			mu.Lock()
			defer mu.Unlock()
			switch sig.Kind {
			case SignalError:
				e.Metrics.RecordNodeLatency(threadID, name, time.Since(start), "error")
				if firstErr == nil {
					firstErr = sig.Err
				}
			case SignalInterrupt:
				e.Metrics.RecordNodeLatency(threadID, name, time.Since(start), "interrupt")
				e.Metrics.IncrementInterrupts(name)
				if firstInterruptName == "" {
					firstInterruptName = name
					firstInterruptPayload = sig.Payload
				}
				results[name] = updates
				completed = append(completed, name)
			default:
				e.Metrics.RecordNodeLatency(threadID, name, time.Since(start), "success")
				results[name] = updates
				completed = append(completed, name)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, nil, "", nil, firstErr
	}
	sort.Strings(completed)
	return results, completed, firstInterruptName, firstInterruptPayload, nil
}

// nextFrontier applies edges from every completed node against the
// post-merge state to compute the next superstep's frontier, per spec.md
// §4.5 step 7 / "Routing".
func (e *Engine) nextFrontier(completed []string, state State) ([]string, error) {
	seen := map[string]bool{}
	var next []string
	for _, name := range completed {
		for _, edge := range e.Graph.Forward[name] {
			targets, err := routeEdge(edge, state)
			if err != nil {
				return nil, WrapError(ErrExpressionError, name, err)
			}
			for _, t := range targets {
				if t == config.End {
					continue
				}
				if !seen[t] {
					seen[t] = true
					next = append(next, t)
				}
			}
		}
	}
	return next, nil
}

// routeEdge implements the three routing forms from spec.md §4.5: plain
// unconditional, boolean-condition, and route-label (list `to`, router
// writes the resolved target name to _route, already reconciled against
// the node's own routes/default_route when the router node runs, see
// compileRouter).
func routeEdge(e config.EdgeConfig, state State) ([]string, error) {
	switch {
	case e.Condition != "":
		ok, err := expr.EvalCondition(e.Condition, state)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if e.ToSingle != "" {
			return []string{e.ToSingle}, nil
		}
		return e.ToMany, nil
	case len(e.ToMany) > 0:
		routeVal, _ := state.Get(FieldRoute)
		label, _ := routeVal.(string)
		for _, t := range e.ToMany {
			if t == label {
				return []string{t}, nil
			}
		}
		return nil, nil
	default:
		return []string{e.ToSingle}, nil
	}
}

// outputKeyOf returns the state key whose presence gates skip_if_exists for
// a node kind, per spec.md §4.5 step 2. Kinds with no single designated key
// (passthrough, subgraph) never skip.
func outputKeyOf(nc *config.NodeConfig) string {
	switch nc.Type {
	case config.KindLLM, config.KindRouter, config.KindTool, config.KindPython, config.KindAgent:
		return nc.StateKey
	case config.KindMap:
		return nc.Collect
	case config.KindInterrupt:
		return nc.ResumeKey
	default:
		return ""
	}
}

// persist writes a checkpoint for the given superstep, per spec.md §4.5
// step 5.
func (e *Engine) persist(ctx context.Context, threadID string, state State, frontier []string, superstep int, source string, rng *rand.Rand) error {
	key, err := computeIdempotencyKey(threadID, superstep, frontier, state)
	if err != nil {
		return WrapError(ErrCheckpointError, "", err)
	}
	cp := Checkpoint{
		ThreadID:       threadID,
		Superstep:      superstep,
		State:          state,
		Frontier:       frontier,
		RNGSeed:        rngSeedFor(threadID),
		Timestamp:      time.Now(),
		IdempotencyKey: key,
	}
	if err := e.Store.Put(ctx, threadID, cp, CheckpointMetadata{Source: source, Superstep: superstep}); err != nil {
		e.Emitter.Emit(emit.Event{
			RunID: threadID,
			Step:  superstep,
			Msg:   "checkpoint_save_failed",
			Meta:  map[string]interface{}{"error": err.Error(), "source": source},
		})
		e.Metrics.IncrementCheckpoints(threadID, "failed")
		return WrapError(ErrCheckpointError, "", err)
	}
	e.Emitter.Emit(emit.Event{
		RunID: threadID,
		Step:  superstep,
		Msg:   "checkpoint_saved",
		Meta:  map[string]interface{}{"idempotency_key": key, "source": source},
	})
	e.Metrics.IncrementCheckpoints(threadID, "saved")
	return nil
}

// runSubgraph is the RunSubgraphFunc implementation wired into Runtime by
// NewEngine, used by compileSubgraph (spec.md §4.5 "Subgraphs").
func (e *Engine) runSubgraph(ctx context.Context, graphPath string, mode config.SubgraphMode, childState State, parentThreadID string) (State, any, error) {
	if e.Loader == nil {
		return nil, nil, fmt.Errorf("subgraph %q: no graph loader configured", graphPath)
	}
	path := graphPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.Graph.Dir, path)
	}
	childGraph, childRuntime, err := e.Loader(path)
	if err != nil {
		return nil, nil, err
	}

	threadID := parentThreadID + "::" + graphPath
	childEngine := NewEngine(childGraph, childRuntime, e.Store, e.Options, e.Loader, e.Emitter)
	result, err := childEngine.Invoke(ctx, threadID, childState)
	if err != nil {
		return nil, nil, err
	}
	if result.Interrupted {
		return result.State, result.InterruptPayload, nil
	}
	return result.State, nil, nil
}

func orderedKeys(m map[string]Updates) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
