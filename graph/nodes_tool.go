package graph

import (
	"context"
	"fmt"

	"github.com/corewald/flowgraph/graph/config"
)

// compileTool builds the Node closure for `type: tool`: resolve args,
// dispatch to the named registry tool, write state_key. Config validation
// already restricts on_error to fail/skip for this kind (spec.md §4.7).
func compileTool(cfg *config.NodeConfig, rt *Runtime) Node {
	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		args, err := resolveVariables(toolArgs(cfg), state)
		if err != nil {
			return nil, RaisedError(err)
		}

		tool, ok := rt.Tools[cfg.Tool]
		if !ok {
			return nil, RaisedError(NewError(ErrNodeError, cfg.Name, "unknown tool %q", cfg.Tool))
		}

		result, skipped, nodeErr := executeWithPolicy(cfg, func() (any, error) {
			return tool.Call(ctx, args)
		}, nil)
		if nodeErr != nil {
			if skipped {
				return Updates{cfg.StateKey: nil, FieldSkipped: true, FieldErrors: []any{nodeErr.Error()}}, Continue()
			}
			return nil, RaisedError(nodeErr)
		}
		return Updates{cfg.StateKey: result}, Continue()
	})
}

// compilePython builds the Node closure for `type: python`: same contract
// as Tool, dispatching to a host-registered callable instead of the tool
// registry.
func compilePython(cfg *config.NodeConfig, rt *Runtime) Node {
	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		args, err := resolveVariables(toolArgs(cfg), state)
		if err != nil {
			return nil, RaisedError(err)
		}

		fn, ok := rt.Pythons[cfg.Tool]
		if !ok {
			return nil, RaisedError(NewError(ErrNodeError, cfg.Name, "unknown python callable %q", cfg.Tool))
		}

		result, skipped, nodeErr := executeWithPolicy(cfg, func() (any, error) {
			return fn(ctx, args)
		}, nil)
		if nodeErr != nil {
			if skipped {
				return Updates{cfg.StateKey: nil, FieldSkipped: true, FieldErrors: []any{nodeErr.Error()}}, Continue()
			}
			return nil, RaisedError(nodeErr)
		}
		return Updates{cfg.StateKey: result}, Continue()
	})
}

// toolArgs prefers the kind-specific Args map, falling back to Variables so
// configs that only declared `variables` still work for tool/python nodes.
func toolArgs(cfg *config.NodeConfig) map[string]string {
	if len(cfg.Args) > 0 {
		return cfg.Args
	}
	return cfg.Variables
}

// compileAgent builds the Node closure for the supplemented `type: agent`
// kind (SPEC_FULL.md §4, DESIGN.md Open Question decision): a bounded
// think/act loop that calls the LLM, executes any requested tool calls, and
// feeds results back until the model returns a final text response or the
// iteration cap (max_retries, default 5) is reached.
func compileAgent(cfg *config.NodeConfig, rt *Runtime) Node {
	maxIterations := cfg.MaxRetries
	if maxIterations <= 0 {
		maxIterations = 5
	}

	return NodeFunc(func(ctx context.Context, state State) (Updates, Signal) {
		vars, verr := resolveVariables(cfg.Variables, state)
		if verr != nil {
			return nil, RaisedError(verr)
		}

		var usage TokenUsage
		primary := func() (any, error) {
			result, u, err := runAgentLoop(ctx, cfg, rt, vars, maxIterations)
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
				result, u, err := runAgentLoop(ctx, fb, rt, fbVars, maxIterations)
				usage = u
				return result, err
			}
		}

		result, skipped, nodeErr := executeWithPolicy(cfg, primary, fallback)
		if nodeErr != nil {
			if skipped {
				return Updates{cfg.StateKey: nil, FieldSkipped: true, FieldErrors: []any{nodeErr.Error()}}, Continue()
			}
			return nil, RaisedError(nodeErr)
		}
		return Updates{cfg.StateKey: result, FieldTokenUsage: usage.PromptTokens + usage.CompletionTokens}, Continue()
	})
}

func runAgentLoop(ctx context.Context, cfg *config.NodeConfig, rt *Runtime, vars map[string]any, maxIterations int) (string, TokenUsage, error) {
	client, err := rt.ChatClient("", "")
	if err != nil {
		return "", TokenUsage{}, err
	}

	specs := make([]ToolSpec, 0, len(cfg.Tools))
	for _, name := range cfg.Tools {
		specs = append(specs, ToolSpec{Name: name})
	}

	var usage TokenUsage
	messages := []Message{{Role: RoleUser, Content: fmt.Sprintf("%v", vars)}}
	for i := 0; i < maxIterations; i++ {
		out, err := client.Invoke(ctx, messages, nil, specs, cfg.MaxTokens)
		if err != nil {
			return "", usage, err
		}
		usage.PromptTokens += out.Usage.PromptTokens
		usage.CompletionTokens += out.Usage.CompletionTokens
		if len(out.ToolCalls) == 0 {
			return out.Text, usage, nil
		}
		messages = append(messages, Message{Role: RoleAssistant, Content: out.Text})
		for _, call := range out.ToolCalls {
			tool, ok := rt.Tools[call.Name]
			if !ok {
				return "", usage, NewError(ErrNodeError, cfg.Name, "agent requested unknown tool %q", call.Name)
			}
			result, err := tool.Call(ctx, call.Input)
			if err != nil {
				return "", usage, err
			}
			messages = append(messages, Message{Role: RoleTool, Content: fmt.Sprintf("%v", result)})
		}
	}
	return "", usage, NewError(ErrNodeError, cfg.Name, "agent exceeded %d tool-call iterations without a final response", maxIterations)
}
