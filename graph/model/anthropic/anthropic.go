// Package anthropic adapts Anthropic's Claude API to graph.LLMClient.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/corewald/flowgraph/graph"
)

const defaultMaxTokens = 4096

// ChatModel implements graph.LLMClient for Anthropic's Claude API.
//
// Grounded on the teacher's anthropic.ChatModel (graph/model/anthropic/
// anthropic.go): kept the client-interface-for-testability seam, the
// system-prompt-extraction step (Anthropic takes system as a separate
// parameter, not a message), and the block-by-block response conversion;
// generalized Chat into Invoke with an explicit maxTokens argument and
// added Stream using the SDK's server-sent-event streaming client.
type ChatModel struct {
	apiKey    string
	modelName string
	client    anthropicClient
}

type anthropicClient interface {
	createMessage(ctx context.Context, systemPrompt string, messages []graph.Message, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error)
	streamMessage(ctx context.Context, systemPrompt string, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error)
}

// NewChatModel creates a ChatModel for the given model name (empty string
// uses the default).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &ChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

// Invoke implements graph.LLMClient.
func (m *ChatModel) Invoke(ctx context.Context, messages []graph.Message, schema map[string]any, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return graph.ChatOut{}, err
	}
	systemPrompt, conversation := extractSystemPrompt(messages)
	if len(schema) > 0 {
		systemPrompt = appendJSONInstruction(systemPrompt)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out, err := m.client.createMessage(ctx, systemPrompt, conversation, tools, maxTokens)
	if err != nil {
		var apiErr *anthropicError
		if errors.As(err, &apiErr) {
			return graph.ChatOut{}, apiErr
		}
		return graph.ChatOut{}, err
	}
	return out, nil
}

// Stream implements graph.LLMClient.
func (m *ChatModel) Stream(ctx context.Context, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error) {
	systemPrompt, conversation := extractSystemPrompt(messages)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return m.client.streamMessage(ctx, systemPrompt, conversation, maxTokens)
}

func appendJSONInstruction(systemPrompt string) string {
	instruction := "Respond with a single JSON value matching the requested schema, with no surrounding prose."
	if systemPrompt == "" {
		return instruction
	}
	return systemPrompt + "\n\n" + instruction
}

// extractSystemPrompt separates system messages (Anthropic takes system as
// a request-level parameter rather than a message in the conversation).
func extractSystemPrompt(messages []graph.Message) (string, []graph.Message) {
	var systemPrompt string
	var conversation []graph.Message
	for _, msg := range messages {
		if msg.Role == graph.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		} else {
			conversation = append(conversation, msg)
		}
	}
	return systemPrompt, conversation
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createMessage(ctx context.Context, systemPrompt string, messages []graph.Message, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error) {
	if c.apiKey == "" {
		return graph.ChatOut{}, errors.New("anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: int64(maxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return graph.ChatOut{}, fmt.Errorf("anthropic API error: %w", err)
	}
	return convertResponse(resp), nil
}

func (c *defaultClient) streamMessage(ctx context.Context, systemPrompt string, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: int64(maxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	stream := client.Messages.NewStreaming(ctx, params)
	out := make(chan graph.StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropicsdk.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropicsdk.TextDelta); ok {
					out <- graph.StreamChunk{Delta: text.Text}
				}
			}
		}
		out <- graph.StreamChunk{Done: true}
	}()
	return out, stream.Err()
}

func convertMessages(messages []graph.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case graph.RoleAssistant:
			result = append(result, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		default:
			result = append(result, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		}
	}
	return result
}

func convertTools(tools []graph.ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		var required []string
		if tool.Schema != nil {
			if props, ok := tool.Schema["properties"]; ok {
				properties = props
			}
			if req, ok := tool.Schema["required"].([]string); ok {
				required = req
			}
		}
		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return result
}

func convertResponse(resp *anthropicsdk.Message) graph.ChatOut {
	out := graph.ChatOut{
		Usage: graph.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, graph.ToolCall{
				Name:  b.Name,
				Input: convertToolInput(b.Input),
			})
		}
	}
	return out
}

func convertToolInput(input any) map[string]any {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]any); ok {
		return m
	}
	return map[string]any{"_raw": input}
}

type anthropicError struct {
	Type    string
	Message string
}

func (e *anthropicError) Error() string { return e.Type + ": " + e.Message }
