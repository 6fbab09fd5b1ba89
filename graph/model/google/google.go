// Package google adapts Google's Gemini API to graph.LLMClient.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/corewald/flowgraph/graph"
)

const defaultMaxTokens = 4096

// ChatModel implements graph.LLMClient for Google's Gemini API.
//
// Grounded on the teacher's google.ChatModel (graph/model/google/
// google.go): kept the safety-filter-error wrapping and the
// schema-to-genai.Schema conversion; generalized Chat into Invoke with
// schema/maxTokens arguments (schema sets GenerationConfig.ResponseSchema
// plus ResponseMIMEType "application/json") and added Stream over
// GenerateContentStream.
type ChatModel struct {
	apiKey    string
	modelName string
	client    googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, messages []graph.Message, schema map[string]any, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error)
	generateContentStream(ctx context.Context, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error)
}

// NewChatModel creates a Gemini-backed ChatModel. modelName defaults to
// "gemini-2.5-flash" when empty.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &ChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

// Invoke implements graph.LLMClient.
func (m *ChatModel) Invoke(ctx context.Context, messages []graph.Message, schema map[string]any, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error) {
	if ctx.Err() != nil {
		return graph.ChatOut{}, ctx.Err()
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out, err := m.client.generateContent(ctx, messages, schema, tools, maxTokens)
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return graph.ChatOut{}, safetyErr
		}
		return graph.ChatOut{}, err
	}
	return out, nil
}

// Stream implements graph.LLMClient.
func (m *ChatModel) Stream(ctx context.Context, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return m.client.generateContentStream(ctx, messages, maxTokens)
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) generateContent(ctx context.Context, messages []graph.Message, schema map[string]any, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error) {
	if c.apiKey == "" {
		return graph.ChatOut{}, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return graph.ChatOut{}, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(c.modelName)
	genModel.MaxOutputTokens = intPtr(int32(maxTokens))
	if len(tools) > 0 {
		genModel.Tools = convertTools(tools)
	}
	if len(schema) > 0 {
		genModel.ResponseMIMEType = "application/json"
		genModel.ResponseSchema = convertSchemaToGenai(schema)
	}

	parts := convertMessages(messages)
	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return graph.ChatOut{}, fmt.Errorf("google API error: %w", err)
	}
	return convertResponse(resp), nil
}

func (c *defaultClient) generateContentStream(ctx context.Context, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	genModel := client.GenerativeModel(c.modelName)
	genModel.MaxOutputTokens = intPtr(int32(maxTokens))
	parts := convertMessages(messages)

	iter := genModel.GenerateContentStream(ctx, parts...)
	out := make(chan graph.StreamChunk)
	go func() {
		defer close(out)
		defer client.Close()
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				out <- graph.StreamChunk{Err: err}
				return
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if text, ok := part.(genai.Text); ok {
						out <- graph.StreamChunk{Delta: string(text)}
					}
				}
			}
		}
		out <- graph.StreamChunk{Done: true}
	}()
	return out, nil
}

func intPtr(v int32) *int32 { return &v }

func convertMessages(messages []graph.Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertTools(tools []graph.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchemaToGenai(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchemaToGenai converts a JSON-Schema-shaped map to genai.Schema,
// one level deep (object with primitive/array-of-primitive properties).
func convertSchemaToGenai(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]any); ok {
				propSchema := &genai.Schema{}
				if typeStr, ok := propMap["type"].(string); ok {
					propSchema.Type = convertTypeString(typeStr)
				}
				if desc, ok := propMap["description"].(string); ok {
					propSchema.Description = desc
				}
				properties[key] = propSchema
			}
		}
		result.Properties = properties
	}

	if required, ok := schema["required"].([]string); ok {
		result.Required = required
	} else if required, ok := schema["required"].([]any); ok {
		requiredStrs := make([]string, 0, len(required))
		for _, v := range required {
			if s, ok := v.(string); ok {
				requiredStrs = append(requiredStrs, s)
			}
		}
		result.Required = requiredStrs
	}

	return result
}

func convertResponse(resp *genai.GenerateContentResponse) graph.ChatOut {
	out := graph.ChatOut{}
	if resp.UsageMetadata != nil {
		out.Usage = graph.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return out
	}

	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, graph.ToolCall{
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	return out
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// SafetyFilterError represents a Google safety filter block.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string { return "content blocked by safety filter: " + e.category }
func (e *SafetyFilterError) Category() string { return e.category }
func (e *SafetyFilterError) Reason() string   { return e.reason }
