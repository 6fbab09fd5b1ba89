package graph

import (
	"testing"

	"github.com/corewald/flowgraph/graph/config"
)

func edge(from, to string) config.EdgeConfig {
	return config.EdgeConfig{From: from, ToSingle: to}
}

func TestCompile_LinearGraph_NoWarnings(t *testing.T) {
	cfg := &config.Config{
		Name:      "linear",
		NodeOrder: []string{"a", "b"},
		Nodes: map[string]*config.NodeConfig{
			"a": {Name: "a", Type: config.KindPassthrough},
			"b": {Name: "b", Type: config.KindPassthrough},
		},
		Edges: []config.EdgeConfig{
			edge(config.Start, "a"),
			edge("a", "b"),
			edge("b", config.End),
		},
		LoopLimits: map[string]int{},
	}

	g, err := Compile(cfg, &Runtime{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Warnings) != 0 {
		t.Errorf("expected no warnings for an acyclic graph, got %v", g.Warnings)
	}
	if _, ok := g.Nodes["a"]; !ok {
		t.Error("expected node a to be compiled")
	}
}

func TestCompile_CycleWithoutLoopLimit_WarnsAndDefaultsSkipIfExistsFalse(t *testing.T) {
	cfg := &config.Config{
		Name:      "cycle",
		NodeOrder: []string{"a", "b"},
		Nodes: map[string]*config.NodeConfig{
			"a": {Name: "a", Type: config.KindPassthrough},
			"b": {Name: "b", Type: config.KindPassthrough},
		},
		Edges: []config.EdgeConfig{
			edge(config.Start, "a"),
			edge("a", "b"),
			edge("b", "a"), // closes the cycle
		},
		LoopLimits: map[string]int{},
	}

	g, err := Compile(cfg, &Runtime{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Warnings) != 2 {
		t.Errorf("expected one warning per cycle member (2), got %d: %v", len(g.Warnings), g.Warnings)
	}

	for _, name := range []string{"a", "b"} {
		nc := cfg.Nodes[name]
		if nc.SkipIfExists == nil || *nc.SkipIfExists {
			t.Errorf("expected node %q in a cycle to default skip_if_exists=false, got %v", name, nc.SkipIfExists)
		}
	}
}

func TestCompile_CycleWithLoopLimit_NoWarning(t *testing.T) {
	cfg := &config.Config{
		Name:      "cycle-limited",
		NodeOrder: []string{"a", "b"},
		Nodes: map[string]*config.NodeConfig{
			"a": {Name: "a", Type: config.KindPassthrough},
			"b": {Name: "b", Type: config.KindPassthrough},
		},
		Edges: []config.EdgeConfig{
			edge(config.Start, "a"),
			edge("a", "b"),
			edge("b", "a"),
		},
		LoopLimits: map[string]int{"a": 5, "b": 5},
	}

	g, err := Compile(cfg, &Runtime{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Warnings) != 0 {
		t.Errorf("expected no warnings once every cycle member has a loop_limits entry, got %v", g.Warnings)
	}
}

func TestCompile_SelfLoop_DefaultsSkipIfExistsFalse(t *testing.T) {
	cfg := &config.Config{
		Name:      "selfloop",
		NodeOrder: []string{"a"},
		Nodes: map[string]*config.NodeConfig{
			"a": {Name: "a", Type: config.KindPassthrough},
		},
		Edges: []config.EdgeConfig{
			edge(config.Start, "a"),
			edge("a", "a"),
		},
		LoopLimits: map[string]int{},
	}

	g, err := Compile(cfg, &Runtime{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nc := cfg.Nodes["a"]
	if nc.SkipIfExists == nil || *nc.SkipIfExists {
		t.Errorf("expected self-looping node to default skip_if_exists=false, got %v", nc.SkipIfExists)
	}
	if len(g.Warnings) != 1 {
		t.Errorf("expected a single warning for the unlimited self-loop, got %v", g.Warnings)
	}
}

func TestCompile_ExplicitSkipIfExists_NotOverriddenByCycleDefault(t *testing.T) {
	explicitTrue := true
	cfg := &config.Config{
		Name:      "cycle-explicit",
		NodeOrder: []string{"a", "b"},
		Nodes: map[string]*config.NodeConfig{
			"a": {Name: "a", Type: config.KindPassthrough, SkipIfExists: &explicitTrue, SkipIfExistsExplicit: true},
			"b": {Name: "b", Type: config.KindPassthrough},
		},
		Edges: []config.EdgeConfig{
			edge(config.Start, "a"),
			edge("a", "b"),
			edge("b", "a"),
		},
		LoopLimits: map[string]int{"a": 3, "b": 3},
	}

	g, err := Compile(cfg, &Runtime{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !*cfg.Nodes["a"].SkipIfExists {
		t.Error("expected explicit skip_if_exists=true to survive compilation of a cyclic node")
	}
	_ = g
}

func TestCompile_UnrecognizedNodeType(t *testing.T) {
	cfg := &config.Config{
		Name:      "bad",
		NodeOrder: []string{"a"},
		Nodes: map[string]*config.NodeConfig{
			"a": {Name: "a", Type: "not-a-real-kind"},
		},
		Edges:      []config.EdgeConfig{edge(config.Start, "a")},
		LoopLimits: map[string]int{},
	}
	_, err := Compile(cfg, &Runtime{})
	if err == nil {
		t.Fatal("expected an error compiling an unrecognized node kind")
	}
	kind, ok := KindOf(err)
	if !ok || kind != ErrInvalidConfig {
		t.Errorf("KindOf(err) = (%v, %v), want (%v, true)", kind, ok, ErrInvalidConfig)
	}
}

func TestRegisterSchemaFields_PerKind(t *testing.T) {
	schema := NewSchema()
	registerSchemaFields(schema, &config.NodeConfig{Type: config.KindLLM, StateKey: "answer"})
	registerSchemaFields(schema, &config.NodeConfig{Type: config.KindMap, Collect: "results"})
	registerSchemaFields(schema, &config.NodeConfig{Type: config.KindInterrupt, ResumeKey: "approval"})
	registerSchemaFields(schema, &config.NodeConfig{Type: config.KindPassthrough, Output: map[string]string{"x": "1"}})

	if schema.ReducerFor("answer") != ReducerLast {
		t.Error("expected llm state_key to use ReducerLast")
	}
	if schema.ReducerFor("results") != ReducerSortedAppend {
		t.Error("expected map collect field to use ReducerSortedAppend")
	}
	if schema.ReducerFor("approval") != ReducerLast {
		t.Error("expected interrupt resume_key to use ReducerLast")
	}
	if schema.ReducerFor("x") != ReducerLast {
		t.Error("expected passthrough output key to use ReducerLast")
	}
}
