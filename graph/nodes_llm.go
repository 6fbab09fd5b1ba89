package graph

import (
	"context"

	"github.com/corewald/flowgraph/graph/config"
)

// executePrompt runs one prompt invocation through rt.Prompt, reporting
// token usage when the executor implements the optional UsageReporter
// capability (graph/prompt.Executor does); otherwise usage is zero, which
// is a no-op contribution to `_token_usage`.
func executePrompt(ctx context.Context, rt *Runtime, promptName string, vars map[string]any, schema map[string]any, maxTokens int, graphDir string) (any, TokenUsage, error) {
	if reporter, ok := rt.Prompt.(UsageReporter); ok {
		return reporter.ExecuteWithUsage(ctx, promptName, vars, schema, "", "", maxTokens, graphDir)
	}
	result, err := rt.Prompt.Execute(ctx, promptName, vars, schema, "", "", maxTokens, graphDir)
	return result, TokenUsage{}, err
}

// compileLLM builds the Node closure for `type: llm`, per spec.md §4.6:
// resolve variables, run the named prompt through the PromptExecutor,
// optionally parse JSON, write state_key, honor on_error/max_retries/
// fallback.
func compileLLM(cfg *config.NodeConfig, rt *Runtime, graphDir string) Node {
	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		vars, err := resolveVariables(cfg.Variables, state)
		if err != nil {
			return nil, RaisedError(err)
		}

		var schema map[string]any
		if cfg.ParseJSON {
			schema = map[string]any{}
		}

		var usage TokenUsage
		primary := func() (any, error) {
			result, u, err := executePrompt(ctx, rt, cfg.Prompt, vars, schema, cfg.MaxTokens, graphDir)
			usage = u
			return result, err
		}
		var fallback func() (any, error)
		if cfg.Fallback != nil {
			fb := cfg.Fallback
			fallback = func() (any, error) {
				fbVars, ferr := resolveVariables(fb.Variables, state)
				if ferr != nil {
					return nil, ferr
				}
				result, u, err := executePrompt(ctx, rt, fb.Prompt, fbVars, schema, fb.MaxTokens, graphDir)
				usage = u
				return result, err
			}
		}

		result, skipped, nodeErr := executeWithPolicy(cfg, primary, fallback)
		if nodeErr != nil {
			if skipped {
				return Updates{
					cfg.StateKey: nil,
					FieldSkipped: true,
					FieldErrors:  []any{nodeErr.Error()},
				}, Continue()
			}
			return nil, RaisedError(nodeErr)
		}
		return Updates{cfg.StateKey: result, FieldTokenUsage: usage.PromptTokens + usage.CompletionTokens}, Continue()
	})
}

// compileRouter builds the Node closure for `type: router`: an LLM variant
// constrained to emit a route label. The label is looked up in cfg.Routes
// to produce the actual target node name written to `_route`; an unmapped
// label falls back to cfg.DefaultRoute, then to the label itself (treating
// it as a node name directly), per spec.md §4.6 and §4.5 routing rules.
func compileRouter(cfg *config.NodeConfig, rt *Runtime, graphDir string) Node {
	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		vars, err := resolveVariables(cfg.Variables, state)
		if err != nil {
			return nil, RaisedError(err)
		}

		var usage TokenUsage
		primary := func() (any, error) {
			result, u, err := executePrompt(ctx, rt, cfg.Prompt, vars, nil, cfg.MaxTokens, graphDir)
			usage = u
			return result, err
		}
		result, skipped, nodeErr := executeWithPolicy(cfg, primary, nil)
		if nodeErr != nil {
			if skipped {
				return Updates{FieldSkipped: true, FieldErrors: []any{nodeErr.Error()}}, Continue()
			}
			return nil, RaisedError(nodeErr)
		}

		label, _ := result.(string)
		target, ok := cfg.Routes[label]
		if !ok {
			if cfg.DefaultRoute != "" {
				target = cfg.DefaultRoute
			} else {
				target = label
			}
		}

		updates := Updates{FieldRoute: target, FieldTokenUsage: usage.PromptTokens + usage.CompletionTokens}
		if cfg.StateKey != "" {
			updates[cfg.StateKey] = label
		}
		return updates, Continue()
	})
}

// compilePassthrough builds the Node closure for `type: passthrough`:
// evaluate each `output` entry as a value expression against state.
func compilePassthrough(cfg *config.NodeConfig) Node {
	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		updates := make(Updates, len(cfg.Output))
		for key, raw := range cfg.Output {
			v, err := resolveValue(raw, state)
			if err != nil {
				return nil, RaisedError(err)
			}
			updates[key] = v
		}
		return updates, Continue()
	})
}

// compileInterrupt builds the Node closure for `type: interrupt`: on first
// entry it suspends with a payload built from `message` and `requires`; on
// re-entry (state carries FieldResume) it consumes the resume value under
// resume_key and continues normally, per spec.md §4.5 "Interrupts".
func compileInterrupt(cfg *config.NodeConfig) Node {
	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		if v, ok := state[FieldResume]; ok {
			return Updates{cfg.ResumeKey: v}, Continue()
		}

		payload := map[string]any{"message": cfg.Message}
		for _, key := range cfg.Requires {
			if v, ok := state.Get(key); ok {
				payload[key] = v
			}
		}
		return nil, InterruptSignal(payload)
	})
}
