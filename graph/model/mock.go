// Package model holds LLM client test doubles shared across node tests.
package model

import (
	"context"
	"sync"

	"github.com/corewald/flowgraph/graph"
)

// MockClient is a test implementation of graph.LLMClient.
//
// Grounded on the teacher's MockChatModel (graph/model/mock.go): kept the
// configurable-response-sequence-with-repeat-last behavior, call history
// tracking, and error injection; generalized Chat into Invoke/Stream and
// recorded schema/maxTokens alongside each call.
type MockClient struct {
	// Responses is returned in order; once exhausted, the last response
	// repeats on subsequent calls.
	Responses []graph.ChatOut

	// Err, if set, is returned by Invoke instead of a response.
	Err error

	// StreamChunks, if set, is sent verbatim (in order) by Stream.
	StreamChunks []graph.StreamChunk

	// Calls records every Invoke call, in order.
	Calls []MockCall

	mu        sync.Mutex
	callIndex int
}

// MockCall records a single Invoke invocation.
type MockCall struct {
	Messages  []graph.Message
	Schema    map[string]any
	Tools     []graph.ToolSpec
	MaxTokens int
}

// Invoke implements graph.LLMClient.
func (m *MockClient) Invoke(ctx context.Context, messages []graph.Message, schema map[string]any, tools []graph.ToolSpec, maxTokens int) (graph.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return graph.ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Messages: messages, Schema: schema, Tools: tools, MaxTokens: maxTokens})

	if m.Err != nil {
		return graph.ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return graph.ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Stream implements graph.LLMClient, replaying StreamChunks over a channel.
func (m *MockClient) Stream(ctx context.Context, messages []graph.Message, maxTokens int) (<-chan graph.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(chan graph.StreamChunk, len(m.StreamChunks)+1)
	for _, chunk := range m.StreamChunks {
		out <- chunk
	}
	out <- graph.StreamChunk{Done: true}
	close(out)
	return out, nil
}

// Reset clears call history and the response cursor.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns how many times Invoke has been called.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
