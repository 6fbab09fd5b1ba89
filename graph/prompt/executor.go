// Package prompt implements graph.PromptExecutor: prompt file resolution,
// template rendering, LLM invocation, and structured-output parsing, per
// spec.md §6 "PromptExecutor".
//
// Grounded on the teacher pack for each sub-concern since the teacher
// itself has no prompt-file layer: template rendering uses the standard
// library's text/template (no third-party templating engine appears
// anywhere in the pack, so this is one of the few stdlib-only pieces of
// the module — see DESIGN.md); structured-output recovery is grounded on
// leofalp-aigo's core/parse.ParseStringAs, which unmarshals JSON and
// falls back to github.com/kaptinlin/jsonrepair on failure before
// retrying.
package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/kaptinlin/jsonrepair"

	"github.com/corewald/flowgraph/graph"
)

// ClientFactory resolves a (provider, model) pair to an LLMClient.
// Executor caches the result per (provider, model) for its own lifetime.
type ClientFactory func(provider, model string) (graph.LLMClient, error)

// Executor implements graph.PromptExecutor.
//
// Prompt files resolve graph-relative first (graphDir/prompts/name.tmpl),
// then against GlobalDir (GlobalDir/prompts/name.tmpl), matching spec.md
// §6's "graph-relative first, then global default". Execute is safe for
// concurrent use; both the file cache and the client cache are scoped to
// this Executor instance, not process-wide, per spec.md's per-engine
// cache requirement.
type Executor struct {
	GlobalDir        string
	Factory          ClientFactory
	DefaultProvider  string
	DefaultModel     string
	DefaultMaxTokens int

	// Costs, if set, receives every LLM invocation's token usage for
	// pricing attribution. Nil disables cost tracking entirely; callers
	// that don't need it (tests, cost-agnostic embedders) can leave it
	// unset.
	Costs *graph.CostTracker

	mu          sync.Mutex
	fileCache   map[string]string
	clientCache map[string]graph.LLMClient
}

// NewExecutor constructs an Executor. globalDir is the fallback prompt
// directory used when a prompt isn't found relative to the calling
// graph's own directory.
func NewExecutor(globalDir string, factory ClientFactory, defaultProvider, defaultModel string, defaultMaxTokens int) *Executor {
	return &Executor{
		GlobalDir:        globalDir,
		Factory:          factory,
		DefaultProvider:  defaultProvider,
		DefaultModel:     defaultModel,
		DefaultMaxTokens: defaultMaxTokens,
		fileCache:        map[string]string{},
		clientCache:      map[string]graph.LLMClient{},
	}
}

// Execute implements graph.PromptExecutor.
func (e *Executor) Execute(ctx context.Context, promptName string, variables map[string]any, schema map[string]any, provider, model string, maxTokens int, graphDir string) (any, error) {
	result, _, err := e.ExecuteWithUsage(ctx, promptName, variables, schema, provider, model, maxTokens, graphDir)
	return result, err
}

// ExecuteWithUsage implements graph.UsageReporter, returning the prompt
// invocation's token usage alongside its structured result so node kinds
// can attribute cost (spec.md §4.6's `_token_usage` reducer, SPEC_FULL.md
// "cost accounting").
func (e *Executor) ExecuteWithUsage(ctx context.Context, promptName string, variables map[string]any, schema map[string]any, provider, model string, maxTokens int, graphDir string) (any, graph.TokenUsage, error) {
	provider = firstNonEmpty(provider, e.DefaultProvider)
	model = firstNonEmpty(model, e.DefaultModel)
	if maxTokens <= 0 {
		maxTokens = e.DefaultMaxTokens
	}

	stack := map[string]bool{promptName: true}
	text, err := e.loadPrompt(promptName, graphDir)
	if err != nil {
		return nil, graph.TokenUsage{}, err
	}

	rendered, err := e.render(text, graphDir, variables, stack)
	if err != nil {
		return nil, graph.TokenUsage{}, fmt.Errorf("render prompt %q: %w", promptName, err)
	}

	client, err := e.client(provider, model)
	if err != nil {
		return nil, graph.TokenUsage{}, err
	}

	out, err := client.Invoke(ctx, []graph.Message{{Role: graph.RoleUser, Content: rendered}}, schema, nil, maxTokens)
	if err != nil {
		return nil, graph.TokenUsage{}, err
	}

	if e.Costs != nil {
		e.Costs.RecordLLMCall(model, out.Usage.PromptTokens, out.Usage.CompletionTokens, "")
	}

	if schema == nil {
		return out.Text, out.Usage, nil
	}
	parsed, err := parseStructured(out.Text)
	return parsed, out.Usage, err
}

// loadPrompt resolves and reads a prompt file, checking graphDir first
// then GlobalDir. Callers are responsible for cycle detection (see
// render's `include` function) before calling this.
func (e *Executor) loadPrompt(name string, graphDir string) (string, error) {
	path, err := e.resolvePath(name, graphDir)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	cached, ok := e.fileCache[path]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt %q not found (looked in %q): %w", name, path, err)
	}
	text := string(data)

	e.mu.Lock()
	e.fileCache[path] = text
	e.mu.Unlock()
	return text, nil
}

func (e *Executor) resolvePath(name, graphDir string) (string, error) {
	filename := name + ".tmpl"
	if graphDir != "" {
		candidate := filepath.Join(graphDir, "prompts", filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if e.GlobalDir != "" {
		candidate := filepath.Join(e.GlobalDir, "prompts", filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("prompt %q not found in graph or global prompt directories", name)
}

// render executes text, substituting variables and resolving any
// {{include "other_prompt"}} directives against the same graphDir and
// cycle-detection stack.
func (e *Executor) render(text, graphDir string, variables map[string]any, stack map[string]bool) (string, error) {
	tmpl := template.New("prompt").Funcs(template.FuncMap{
		"include": func(name string) (string, error) {
			if stack[name] {
				return "", fmt.Errorf("circular prompt include: %q", name)
			}
			stack[name] = true
			defer delete(stack, name)

			inner, err := e.loadPrompt(name, graphDir)
			if err != nil {
				return "", err
			}
			return e.render(inner, graphDir, variables, stack)
		},
	})
	parsed, err := tmpl.Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, variables); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *Executor) client(provider, model string) (graph.LLMClient, error) {
	key := provider + "/" + model

	e.mu.Lock()
	cached, ok := e.clientCache[key]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	if e.Factory == nil {
		return nil, fmt.Errorf("no LLM client factory configured for provider %q", provider)
	}
	client, err := e.Factory(provider, model)
	if err != nil {
		return nil, fmt.Errorf("resolve LLM client for provider %q model %q: %w", provider, model, err)
	}

	e.mu.Lock()
	e.clientCache[key] = client
	e.mu.Unlock()
	return client, nil
}

// parseStructured unmarshals an LLM response as JSON, repairing malformed
// output (missing quotes, trailing commas, the kind of near-JSON models
// emit despite being asked for strict JSON) before giving up.
func parseStructured(content string) (any, error) {
	var result any
	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return result, nil
	}

	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return nil, fmt.Errorf("parse_json: invalid JSON and repair failed: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return nil, fmt.Errorf("parse_json: repaired JSON still invalid: %w (repaired: %s)", err, repaired)
	}
	return result, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
