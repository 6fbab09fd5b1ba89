// Package openai adapts OpenAI's chat completions API to graph.LLMClient.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/corewald/flowgraph/graph"
)

const defaultMaxTokens = 4096

// ChatModel implements graph.LLMClient for OpenAI's chat completions API.
//
// Grounded on the teacher's openai.ChatModel (graph/model/openai/
// openai.go): kept the retry-with-backoff loop, the transient-error
// classification, and the client-interface test seam; generalized Chat
// into Invoke with schema/maxTokens arguments (schema maps to OpenAI's
// JSON response_format) and added Stream over the SDK's SSE client.
type ChatModel struct {
	apiKey     string
	modelName  string
	client     openaiClient
	maxRetries int
	retryDelay time.Duration
}

type openaiClient interface {
	createChatCompletion(ctx context.Context, messages []graph.Message, schema map[string]any, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error)
	streamChatCompletion(ctx context.Context, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error)
}

// NewChatModel creates an OpenAI-backed ChatModel. modelName defaults to
// "gpt-4o" when empty.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		client:     &defaultClient{apiKey: apiKey, modelName: modelName},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Invoke implements graph.LLMClient, retrying transient failures with
// backoff.
func (m *ChatModel) Invoke(ctx context.Context, messages []graph.Message, schema map[string]any, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error) {
	if ctx.Err() != nil {
		return graph.ChatOut{}, ctx.Err()
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.client.createChatCompletion(ctx, messages, schema, tools, maxTokens)
		if err == nil {
			return out, nil
		}

		lastErr = err
		if !isTransientError(err) {
			return graph.ChatOut{}, err
		}
		if attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay
		if isRateLimitError(err) {
			delay = m.retryDelay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return graph.ChatOut{}, ctx.Err()
		}
	}

	return graph.ChatOut{}, fmt.Errorf("openai API failed after %d retries: %w", m.maxRetries, lastErr)
}

// Stream implements graph.LLMClient.
func (m *ChatModel) Stream(ctx context.Context, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return m.client.streamChatCompletion(ctx, messages, maxTokens)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var rateLimitErr *rateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}
	msgLower := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "503", "502", "500"} {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	var rateLimitErr *rateLimitError
	return errors.As(err, &rateLimitErr)
}

type rateLimitError struct{ message string }

func (e *rateLimitError) Error() string { return e.message }

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createChatCompletion(ctx context.Context, messages []graph.Message, schema map[string]any, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error) {
	if c.apiKey == "" {
		return graph.ChatOut{}, errors.New("OpenAI API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	params := openaisdk.ChatCompletionNewParams{
		Model:     openaisdk.ChatModel(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: openaisdk.Int(int64(maxTokens)),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	if len(schema) > 0 {
		params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return graph.ChatOut{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	return convertResponse(resp), nil
}

func (c *defaultClient) streamChatCompletion(ctx context.Context, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))
	params := openaisdk.ChatCompletionNewParams{
		Model:     openaisdk.ChatModel(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: openaisdk.Int(int64(maxTokens)),
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	out := make(chan graph.StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					out <- graph.StreamChunk{Delta: delta}
				}
			}
		}
		out <- graph.StreamChunk{Done: true}
	}()
	return out, stream.Err()
}

func convertMessages(messages []graph.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case graph.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Content)
		case graph.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}

func convertTools(tools []graph.ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openaisdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return result
}

func convertResponse(resp *openaisdk.ChatCompletion) graph.ChatOut {
	out := graph.ChatOut{
		Usage: graph.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}

	msg := resp.Choices[0].Message
	out.Text = msg.Content

	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]graph.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = graph.ToolCall{
				Name:  tc.Function.Name,
				Input: parseToolInput(tc.Function.Arguments),
			}
		}
	}
	return out
}

func parseToolInput(jsonStr string) map[string]any {
	if jsonStr == "" {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return map[string]any{"_raw": jsonStr}
	}
	return result
}
