// Package config loads and validates the declarative graph description
// (spec.md §3 "Config (immutable)", §4.1 "Config Loader & Validator").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeKind enumerates the closed set of node types a config may declare.
type NodeKind string

const (
	KindLLM         NodeKind = "llm"
	KindRouter      NodeKind = "router"
	KindTool        NodeKind = "tool"
	KindPython      NodeKind = "python"
	KindMap         NodeKind = "map"
	KindPassthrough NodeKind = "passthrough"
	KindInterrupt   NodeKind = "interrupt"
	KindSubgraph    NodeKind = "subgraph"
	KindAgent       NodeKind = "agent"
)

var validKinds = map[NodeKind]bool{
	KindLLM: true, KindRouter: true, KindTool: true, KindPython: true,
	KindMap: true, KindPassthrough: true, KindInterrupt: true,
	KindSubgraph: true, KindAgent: true,
}

// OnError enumerates the per-node error policy.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorSkip     OnError = "skip"
	OnErrorRetry    OnError = "retry"
	OnErrorFallback OnError = "fallback"
)

// SubgraphMode enumerates how a subgraph node composes with its parent.
type SubgraphMode string

const (
	SubgraphInvoke SubgraphMode = "invoke"
	SubgraphDirect SubgraphMode = "direct"
)

// Reserved node names, per spec.md §3.
const (
	Start = "START"
	End   = "END"
)

// NodeConfig is one entry of the `nodes` mapping.
type NodeConfig struct {
	Name string `yaml:"-"`
	Type NodeKind `yaml:"type"`

	// Common to most kinds.
	Prompt         string            `yaml:"prompt,omitempty"`
	Variables      map[string]string `yaml:"variables,omitempty"`
	StateKey       string            `yaml:"state_key,omitempty"`
	Requires       []string          `yaml:"requires,omitempty"`
	OnError        OnError           `yaml:"on_error,omitempty"`
	SkipIfExists   *bool             `yaml:"skip_if_exists,omitempty"`
	// SkipIfExistsExplicit records whether the config set skip_if_exists
	// explicitly, so the compiler's loop-safety default (spec.md §4.4 item
	// 2) only overrides nodes that left it unset.
	SkipIfExistsExplicit bool `yaml:"-"`
	MaxRetries     int               `yaml:"max_retries,omitempty"`
	Fallback       *NodeConfig       `yaml:"fallback,omitempty"`
	LoopLimitOverride int            `yaml:"loop_limit_override,omitempty"`
	MaxTokens      int               `yaml:"max_tokens,omitempty"`
	ParseJSON      bool              `yaml:"parse_json,omitempty"`

	// Router.
	Routes       map[string]string `yaml:"routes,omitempty"`
	DefaultRoute string            `yaml:"default_route,omitempty"`

	// Tool / python / agent.
	Tool  string   `yaml:"tool,omitempty"`
	Args  map[string]string `yaml:"args,omitempty"`
	Tools []string `yaml:"tools,omitempty"`

	// Map.
	Over     string      `yaml:"over,omitempty"`
	As       string      `yaml:"as,omitempty"`
	Collect  string      `yaml:"collect,omitempty"`
	MaxItems int         `yaml:"max_items,omitempty"`
	Node     *NodeConfig `yaml:"node,omitempty"`

	// Subgraph.
	Graph                  string            `yaml:"graph,omitempty"`
	Mode                   SubgraphMode      `yaml:"mode,omitempty"`
	InputMapping           map[string]string `yaml:"input_mapping,omitempty"`
	OutputMapping          map[string]string `yaml:"output_mapping,omitempty"`
	InterruptOutputMapping map[string]string `yaml:"interrupt_output_mapping,omitempty"`

	// Interrupt.
	Message   string `yaml:"message,omitempty"`
	ResumeKey string `yaml:"resume_key,omitempty"`

	// Passthrough.
	Output map[string]string `yaml:"output,omitempty"`
}

// EdgeConfig is one entry of the `edges` sequence.
type EdgeConfig struct {
	From      string   `yaml:"from"`
	To        yaml.Node `yaml:"to"`
	Condition string   `yaml:"condition,omitempty"`
	Type      string   `yaml:"type,omitempty"`

	// Resolved form, populated by Validate.
	ToSingle string   `yaml:"-"`
	ToMany   []string `yaml:"-"`
}

// Conditional reports whether this edge routes via condition/route-label
// rather than unconditionally.
func (e *EdgeConfig) Conditional() bool {
	return e.Condition != "" || e.Type == "conditional" || len(e.ToMany) > 0
}

// ExecutionDefaults is the `config` top-level block.
type ExecutionDefaults struct {
	RecursionLimit int `yaml:"recursion_limit,omitempty"`
	MaxMapItems    int `yaml:"max_map_items,omitempty"`
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
	MaxTokens      int `yaml:"max_tokens,omitempty"`
}

// CheckpointerConfig describes how to construct the configured CheckpointStore.
type CheckpointerConfig struct {
	Type string            `yaml:"type,omitempty"` // memory | sqlite | mysql
	DSN  string            `yaml:"dsn,omitempty"`
	Opts map[string]string `yaml:"opts,omitempty"`
}

// PromptDefaults is the `defaults` top-level block, resolved by PromptExecutor.
type PromptDefaults struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// ToolConfig is one entry of the `tools` mapping: metadata for a
// registry-resolved Tool, not its implementation.
type ToolConfig struct {
	Description string            `yaml:"description,omitempty"`
	Kind        string            `yaml:"kind,omitempty"` // e.g. "mcp", "http"
	Opts        map[string]string `yaml:"opts,omitempty"`
}

// rawConfig mirrors Config's YAML shape before node names are folded in.
type rawConfig struct {
	Version      string                `yaml:"version"`
	Name         string                `yaml:"name"`
	Nodes        map[string]NodeConfig `yaml:"nodes"`
	Edges        []EdgeConfig          `yaml:"edges"`
	Tools        map[string]ToolConfig `yaml:"tools"`
	Checkpointer CheckpointerConfig    `yaml:"checkpointer"`
	Config       ExecutionDefaults     `yaml:"config"`
	LoopLimits   map[string]int        `yaml:"loop_limits"`
	DataFiles    map[string]string     `yaml:"data_files"`
	Defaults     PromptDefaults        `yaml:"defaults"`
}

// Config is the fully validated, immutable in-memory graph description.
type Config struct {
	Version      string
	Name         string
	Nodes        map[string]*NodeConfig
	NodeOrder    []string
	Edges        []EdgeConfig
	Tools        map[string]ToolConfig
	Checkpointer CheckpointerConfig
	Defaults     ExecutionDefaults
	LoopLimits   map[string]int
	DataFiles    map[string]any
	PromptDefaults PromptDefaults

	// Dir is the directory the config file lives in; prompts, data_files,
	// and subgraph paths resolve relative to it.
	Dir string
}

// Load parses and validates a graph config from raw YAML bytes. dir is the
// directory used to resolve relative file references (pass "" for configs
// not backed by a file, e.g. embedded/tests).
func Load(data []byte, dir string) (*Config, error) {
	var raw rawConfig
	if len(strings.TrimSpace(string(data))) == 0 {
		raw = rawConfig{}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Field: "", Msg: "parse error", Cause: err}
	}

	cfg := &Config{
		Version:        raw.Version,
		Name:           raw.Name,
		Nodes:          map[string]*NodeConfig{},
		Tools:          raw.Tools,
		Checkpointer:   raw.Checkpointer,
		Defaults:       raw.Config,
		LoopLimits:     raw.LoopLimits,
		DataFiles:      map[string]any{},
		PromptDefaults: raw.Defaults,
		Dir:            dir,
	}
	if cfg.LoopLimits == nil {
		cfg.LoopLimits = map[string]int{}
	}
	if cfg.Defaults.RecursionLimit == 0 {
		cfg.Defaults.RecursionLimit = 50
	}
	if cfg.Defaults.MaxMapItems == 0 {
		cfg.Defaults.MaxMapItems = 100
	}

	for name, nc := range raw.Nodes {
		n := nc
		n.Name = name
		cfg.Nodes[name] = &n
		cfg.NodeOrder = append(cfg.NodeOrder, name)
	}
	cfg.Edges = make([]EdgeConfig, len(raw.Edges))
	copy(cfg.Edges, raw.Edges)

	if err := cfg.validateNodes(); err != nil {
		return nil, err
	}
	if err := cfg.validateEdges(); err != nil {
		return nil, err
	}
	if err := cfg.validateLoopLimits(); err != nil {
		return nil, err
	}
	if err := cfg.loadDataFiles(raw.DataFiles); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and loads a config from a path on disk, using the file's
// parent directory for relative resolution.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Field: "", Msg: "cannot read config file", Cause: err}
	}
	return Load(data, filepath.Dir(path))
}

// LoadError reports a validation or load failure with a pointer to the
// offending field, per spec.md §4.1 "Failure modes".
type LoadError struct {
	Field string
	Msg   string
	Cause error
}

func (e *LoadError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid config at %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("invalid config: %s", e.Msg)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func (c *Config) validateNodes() error {
	for name, n := range c.Nodes {
		if name == Start || name == End {
			return &LoadError{Field: "nodes." + name, Msg: "node name collides with reserved START/END"}
		}
		if !validKinds[n.Type] {
			return &LoadError{Field: "nodes." + name + ".type", Msg: fmt.Sprintf("unrecognized node type %q", n.Type)}
		}
		if n.SkipIfExists == nil {
			t := true
			n.SkipIfExists = &t
		} else {
			n.SkipIfExistsExplicit = true
		}
		if err := validateKindShape(name, n); err != nil {
			return err
		}
		if (n.OnError == OnErrorRetry || n.OnError == OnErrorFallback) &&
			(n.Type == KindTool || n.Type == KindPython) {
			return &LoadError{Field: "nodes." + name + ".on_error",
				Msg: fmt.Sprintf("on_error %q is not supported for %s nodes (only fail/skip)", n.OnError, n.Type)}
		}
	}
	return nil
}

func validateKindShape(name string, n *NodeConfig) error {
	switch n.Type {
	case KindRouter:
		if len(n.Routes) == 0 {
			return &LoadError{Field: "nodes." + name + ".routes", Msg: "router node requires routes"}
		}
	case KindTool:
		if n.Tool == "" {
			return &LoadError{Field: "nodes." + name + ".tool", Msg: "tool node requires tool"}
		}
	case KindMap:
		if n.Over == "" || n.Node == nil {
			return &LoadError{Field: "nodes." + name, Msg: "map node requires over and node"}
		}
		if n.Node.Type == KindMap {
			return &LoadError{Field: "nodes." + name + ".node", Msg: "map node cannot nest a map sub-node"}
		}
	case KindSubgraph:
		if n.Graph == "" {
			return &LoadError{Field: "nodes." + name + ".graph", Msg: "subgraph node requires graph"}
		}
		if n.Mode == "" {
			n.Mode = SubgraphInvoke
		}
	case KindInterrupt:
		if n.ResumeKey == "" {
			return &LoadError{Field: "nodes." + name + ".resume_key", Msg: "interrupt node requires resume_key"}
		}
	}
	return nil
}

func (c *Config) validateLoopLimits() error {
	for name := range c.LoopLimits {
		if _, ok := c.Nodes[name]; !ok {
			return &LoadError{Field: "loop_limits." + name, Msg: "loop_limits references unknown node"}
		}
	}
	return nil
}
