package tool

import (
	"context"
	"sync"
	"time"
)

// MockTool is a graph.Tool test double for exercising tool/agent node
// compilation and the engine's superstep loop without hitting a real
// HTTPTool, MCPTool, or LLM-backed agent. It provides:
//   - Configurable tool name
//   - Configurable response sequences
//   - Call history tracking
//   - Error injection
//   - An optional artificial delay, for asserting that Options.TimeoutSeconds
//     and per-node context deadlines actually cut off a slow tool call
//     rather than just a slow LLM call
//   - Thread-safe operation
//
// Example usage:
//
//	mock := &MockTool{
//	    ToolName: "search_web",
//	    Responses: []map[string]interface{}{
//	        {"results": []string{"result1", "result2"}},
//	    },
//	}
//	output, err := mock.Call(ctx, map[string]interface{}{"query": "test"})
//	// Returns {"results": ["result1", "result2"]}
type MockTool struct {
	// ToolName is the identifier returned by Name(). Must be set for the
	// mock to be distinguishable when registered alongside other tools.
	ToolName string

	// Responses contains the sequence of outputs to return. Each call to
	// Call() returns the next response in order. Once exhausted, the last
	// response repeats, matching how a flaky upstream tool settles into a
	// steady final state across retries.
	Responses []map[string]interface{}

	// Err, if set, is returned by every Call() instead of a response,
	// simulating a tool that is down for the life of the run.
	Err error

	// Delay, if nonzero, is slept before each call returns, honoring ctx
	// cancellation. Use this to exercise a tool/agent node's timeout path
	// deterministically instead of depending on a real slow endpoint.
	Delay time.Duration

	// Calls records every invocation of Call(), in order, for asserting a
	// node passed the expected input.
	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single invocation of Call().
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements graph.Tool.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call implements graph.Tool. It honors ctx cancellation both up front and
// across Delay, so a MockTool can stand in for a slow real tool in timeout
// tests. A call is recorded in Calls only once it has actually run — a
// context already canceled before the call starts leaves Calls untouched.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}

	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}

	return m.Responses[idx], nil
}

// Reset clears the call history and rewinds the response sequence, for
// reusing one MockTool across subtests.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of calls recorded in Calls, successful or
// not; calls cut off by ctx before running are not recorded.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
