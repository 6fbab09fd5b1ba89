package graph

import (
	"fmt"

	"github.com/corewald/flowgraph/graph/config"
)

// CompiledGraph bundles everything the engine needs to run a validated
// config: adjacency, compiled node closures, the derived state schema, and
// execution defaults (spec.md §4.4 "Emit a CompiledGraph").
type CompiledGraph struct {
	Name     string
	Dir      string
	Nodes    map[string]Node
	Configs  map[string]*config.NodeConfig
	Forward  map[string][]config.EdgeConfig
	Schema   *Schema
	Defaults config.ExecutionDefaults
	LoopLimits map[string]int
	Checkpointer config.CheckpointerConfig
	// Warnings are advisory, non-fatal findings from compilation (e.g. a
	// cycle member with no loop_limits entry) — spec.md §4.4 item 5.
	Warnings []string
}

// Compile turns a validated config.Config into a CompiledGraph, per
// spec.md §4.4.
func Compile(cfg *config.Config, rt *Runtime) (*CompiledGraph, error) {
	forward := buildAdjacency(cfg)

	sccOf := tarjanSCC(cfg, forward)
	for name, nc := range cfg.Nodes {
		if !nc.SkipIfExistsExplicit && (inNonTrivialSCC(name, sccOf) || hasSelfLoop(name, forward)) {
			f := false
			nc.SkipIfExists = &f
		}
	}

	g := &CompiledGraph{
		Name:         cfg.Name,
		Dir:          cfg.Dir,
		Nodes:        map[string]Node{},
		Configs:      cfg.Nodes,
		Forward:      forward,
		Schema:       NewSchema(),
		Defaults:     cfg.Defaults,
		LoopLimits:   cfg.LoopLimits,
		Checkpointer: cfg.Checkpointer,
	}

	for _, name := range cfg.NodeOrder {
		nc := cfg.Nodes[name]
		node, err := compileNode(nc, rt, cfg.Dir)
		if err != nil {
			return nil, err
		}
		g.Nodes[name] = node
		registerSchemaFields(g.Schema, nc)
	}

	seen := map[string]bool{}
	for name, members := range sccOf {
		if len(members) <= 1 && !hasSelfLoop(name, forward) {
			continue
		}
		key := name
		for _, m := range members {
			if m < key {
				key = m
			}
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		for _, member := range members {
			if _, ok := cfg.LoopLimits[member]; !ok {
				g.Warnings = append(g.Warnings, fmt.Sprintf(
					"node %q participates in a cycle (with %v) but has no loop_limits entry", member, members))
			}
		}
	}

	return g, nil
}

// compileNode dispatches a single NodeConfig to its kind-specific
// compiler, per spec.md §4.4 item 3 / §4.6.
func compileNode(nc *config.NodeConfig, rt *Runtime, graphDir string) (Node, error) {
	switch nc.Type {
	case config.KindLLM:
		return compileLLM(nc, rt, graphDir), nil
	case config.KindRouter:
		return compileRouter(nc, rt, graphDir), nil
	case config.KindTool:
		return compileTool(nc, rt), nil
	case config.KindPython:
		return compilePython(nc, rt), nil
	case config.KindAgent:
		return compileAgent(nc, rt), nil
	case config.KindPassthrough:
		return compilePassthrough(nc), nil
	case config.KindInterrupt:
		return compileInterrupt(nc), nil
	case config.KindSubgraph:
		return compileSubgraph(nc, rt), nil
	case config.KindMap:
		subNode, err := compileNode(nc.Node, rt, graphDir)
		if err != nil {
			return nil, err
		}
		return compileMapNode(nc, rt, subNode), nil
	default:
		return nil, NewError(ErrInvalidConfig, nc.Name, "unrecognized node type %q", nc.Type)
	}
}

// registerSchemaFields adds the state keys a node kind is documented to
// produce to the schema, with the reducer spec.md §9 assigns each.
func registerSchemaFields(schema *Schema, nc *config.NodeConfig) {
	switch nc.Type {
	case config.KindLLM, config.KindRouter, config.KindTool, config.KindPython, config.KindAgent:
		if nc.StateKey != "" {
			schema.Add(nc.StateKey, ReducerLast)
		}
	case config.KindPassthrough:
		for key := range nc.Output {
			schema.Add(key, ReducerLast)
		}
	case config.KindInterrupt:
		if nc.ResumeKey != "" {
			schema.Add(nc.ResumeKey, ReducerLast)
		}
	case config.KindMap:
		if nc.Collect != "" {
			schema.Add(nc.Collect, ReducerSortedAppend)
		}
	case config.KindSubgraph:
		for _, parentKey := range nc.OutputMapping {
			schema.Add(parentKey, ReducerLast)
		}
		for _, parentKey := range nc.InterruptOutputMapping {
			schema.Add(parentKey, ReducerLast)
		}
	}
}

// buildAdjacency groups edges by their From node, per spec.md §4.4 item 1.
func buildAdjacency(cfg *config.Config) map[string][]config.EdgeConfig {
	forward := map[string][]config.EdgeConfig{}
	for _, e := range cfg.Edges {
		forward[e.From] = append(forward[e.From], e)
	}
	return forward
}

// edgeTargets returns every node name an edge can reach, regardless of
// condition — cycle detection cares about reachability, not runtime truth.
func edgeTargets(e config.EdgeConfig) []string {
	if e.ToSingle != "" {
		return []string{e.ToSingle}
	}
	return e.ToMany
}

// tarjanSCC runs Tarjan's strongly-connected-components algorithm over the
// node graph (ignoring START/END) and returns, for every node, the set of
// node names in its component — per spec.md §4.4 item 2 / §9 "Cyclic
// graphs: cycle detection is a single SCC pass".
func tarjanSCC(cfg *config.Config, forward map[string][]config.EdgeConfig) map[string][]string {
	index := 0
	indices := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	componentOf := map[string][]string{}

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range forward[v] {
			for _, w := range edgeTargets(e) {
				if w == config.Start || w == config.End {
					continue
				}
				if _, ok := cfg.Nodes[w]; !ok {
					continue
				}
				if _, visited := indices[w]; !visited {
					strongConnect(w)
					if lowlink[w] < lowlink[v] {
						lowlink[v] = lowlink[w]
					}
				} else if onStack[w] {
					if indices[w] < lowlink[v] {
						lowlink[v] = indices[w]
					}
				}
			}
		}

		if lowlink[v] == indices[v] {
			var component []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			for _, w := range component {
				componentOf[w] = component
			}
		}
	}

	for name := range cfg.Nodes {
		if _, visited := indices[name]; !visited {
			strongConnect(name)
		}
	}
	return componentOf
}

// inNonTrivialSCC reports whether name's component has more than one member.
// A single node with a self-loop is a singleton component and is not counted
// here; hasSelfLoop covers that case.
func inNonTrivialSCC(name string, sccOf map[string][]string) bool {
	members := sccOf[name]
	return len(members) > 1
}

// hasSelfLoop reports whether node name has a direct edge to itself; a
// self-loop is a cycle even though Tarjan reports it as a singleton
// component.
func hasSelfLoop(name string, forward map[string][]config.EdgeConfig) bool {
	for _, e := range forward[name] {
		for _, t := range edgeTargets(e) {
			if t == name {
				return true
			}
		}
	}
	return false
}
