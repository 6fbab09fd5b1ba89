package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MinimalValidGraph_Succeeds(t *testing.T) {
	data := []byte(`
name: greeting
nodes:
  greet:
    type: passthrough
    output:
      msg: "hello"
edges:
  - from: START
    to: greet
  - from: greet
    to: END
`)
	cfg, err := Load(data, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Name != "greeting" {
		t.Errorf("Name = %q, want greeting", cfg.Name)
	}
	if _, ok := cfg.Nodes["greet"]; !ok {
		t.Fatal("expected node greet to be present")
	}
	if cfg.Nodes["greet"].Name != "greet" {
		t.Errorf("node Name field not folded in from map key, got %q", cfg.Nodes["greet"].Name)
	}
	if cfg.Defaults.RecursionLimit != 50 {
		t.Errorf("RecursionLimit default = %d, want 50", cfg.Defaults.RecursionLimit)
	}
	if cfg.Defaults.MaxMapItems != 100 {
		t.Errorf("MaxMapItems default = %d, want 100", cfg.Defaults.MaxMapItems)
	}
}

func TestLoad_EmptyInput_ProducesEmptyConfig(t *testing.T) {
	cfg, err := Load([]byte("   \n\t"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Nodes) != 0 || len(cfg.Edges) != 0 {
		t.Errorf("expected an empty config, got nodes=%v edges=%v", cfg.Nodes, cfg.Edges)
	}
}

func TestLoad_MalformedYAML_ReturnsLoadError(t *testing.T) {
	_, err := Load([]byte("nodes: [this is not a mapping"), "")
	if err == nil {
		t.Fatal("expected a parse error")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %T", err)
	}
}

func TestLoad_UnrecognizedNodeType_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  weird:
    type: teleport
edges:
  - from: START
    to: weird
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error for an unrecognized node type")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Field != "nodes.weird.type" {
		t.Errorf("got %v, want LoadError at nodes.weird.type", err)
	}
}

func TestLoad_NodeNameCollidesWithReservedName_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  START:
    type: passthrough
edges:
  - from: START
    to: END
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error when a node is named START")
	}
}

func TestLoad_RouterWithoutRoutes_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  pick:
    type: router
    prompt: classify
edges:
  - from: START
    to: pick
  - from: pick
    to: [END]
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error for a router node without routes")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Field != "nodes.pick.routes" {
		t.Errorf("got %v, want LoadError at nodes.pick.routes", err)
	}
}

func TestLoad_ToolWithoutToolName_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  call:
    type: tool
edges:
  - from: START
    to: call
  - from: call
    to: END
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error for a tool node without a tool name")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Field != "nodes.call.tool" {
		t.Errorf("got %v, want LoadError at nodes.call.tool", err)
	}
}

func TestLoad_MapWithoutOverOrNode_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  fanout:
    type: map
edges:
  - from: START
    to: fanout
  - from: fanout
    to: END
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error for a map node missing over/node")
	}
}

func TestLoad_MapNestingMapSubNode_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  fanout:
    type: map
    over: "{state.items}"
    as: item
    node:
      type: map
      over: "{state.inner}"
      as: sub
      node:
        type: tool
        tool: noop
edges:
  - from: START
    to: fanout
  - from: fanout
    to: END
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error when a map node nests another map node")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Field != "nodes.fanout.node" {
		t.Errorf("got %v, want LoadError at nodes.fanout.node", err)
	}
}

func TestLoad_SubgraphWithoutGraph_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  stage:
    type: subgraph
edges:
  - from: START
    to: stage
  - from: stage
    to: END
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error for a subgraph node without graph")
	}
}

func TestLoad_SubgraphDefaultsModeToInvoke(t *testing.T) {
	data := []byte(`
nodes:
  stage:
    type: subgraph
    graph: child.yaml
edges:
  - from: START
    to: stage
  - from: stage
    to: END
`)
	cfg, err := Load(data, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Nodes["stage"].Mode != SubgraphInvoke {
		t.Errorf("Mode = %q, want invoke default", cfg.Nodes["stage"].Mode)
	}
}

func TestLoad_InterruptWithoutResumeKey_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  ask:
    type: interrupt
    message: "confirm?"
edges:
  - from: START
    to: ask
  - from: ask
    to: END
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error for an interrupt node without resume_key")
	}
}

func TestLoad_OnErrorRetryOnToolNode_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  call:
    type: tool
    tool: search
    on_error: retry
edges:
  - from: START
    to: call
  - from: call
    to: END
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected retry to be rejected for a tool node")
	}
}

func TestLoad_OnErrorFallbackOnPythonNode_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  call:
    type: python
    tool: transform
    on_error: fallback
edges:
  - from: START
    to: call
  - from: call
    to: END
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected fallback to be rejected for a python node")
	}
}

func TestLoad_OnErrorRetryOnLLMNode_Allowed(t *testing.T) {
	data := []byte(`
nodes:
  ask:
    type: llm
    prompt: summarize
    state_key: out
    on_error: retry
edges:
  - from: START
    to: ask
  - from: ask
    to: END
`)
	if _, err := Load(data, ""); err != nil {
		t.Fatalf("expected retry to be allowed on an llm node, got %v", err)
	}
}

func TestLoad_SkipIfExists_DefaultsTrueUnlessExplicit(t *testing.T) {
	data := []byte(`
nodes:
  a:
    type: passthrough
  b:
    type: passthrough
    skip_if_exists: false
edges:
  - from: START
    to: a
  - from: a
    to: b
  - from: b
    to: END
`)
	cfg, err := Load(data, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := cfg.Nodes["a"]
	if a.SkipIfExists == nil || *a.SkipIfExists != true {
		t.Errorf("a.SkipIfExists = %v, want true (default)", a.SkipIfExists)
	}
	if a.SkipIfExistsExplicit {
		t.Error("a.SkipIfExistsExplicit should be false: value was defaulted, not set in YAML")
	}
	b := cfg.Nodes["b"]
	if b.SkipIfExists == nil || *b.SkipIfExists != false {
		t.Errorf("b.SkipIfExists = %v, want false (explicit)", b.SkipIfExists)
	}
	if !b.SkipIfExistsExplicit {
		t.Error("b.SkipIfExistsExplicit should be true: value was set explicitly in YAML")
	}
}

func TestLoad_LoopLimitsReferencingUnknownNode_Rejected(t *testing.T) {
	data := []byte(`
nodes:
  a:
    type: passthrough
edges:
  - from: START
    to: a
  - from: a
    to: END
loop_limits:
  ghost: 3
`)
	_, err := Load(data, "")
	if err == nil {
		t.Fatal("expected an error when loop_limits references an unknown node")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Field != "loop_limits.ghost" {
		t.Errorf("got %v, want LoadError at loop_limits.ghost", err)
	}
}

func TestLoadFile_ReadsAndResolvesRelativeToParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	content := []byte(`
nodes:
  a:
    type: passthrough
edges:
  - from: START
    to: a
  - from: a
    to: END
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dir != dir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
	}
}

func TestLoadFile_MissingFile_ReturnsLoadError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %T", err)
	}
}
