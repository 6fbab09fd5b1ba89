package graph

import "context"

// LLMClient is the provider-agnostic chat contract node kinds invoke
// through, per spec.md §6. Grounded on the teacher's model.ChatModel
// (graph/model/chat.go): same request/response shape (messages in, text or
// tool calls out), generalized with an explicit schema argument so the
// engine can ask for structured output without a second interface.
type LLMClient interface {
	// Invoke sends messages and returns the model's response. schema, if
	// non-nil, is a JSON Schema the response content should conform to;
	// tools, if non-empty, are offered for the model to call (agent
	// nodes); max_tokens of 0 means use the provider default.
	Invoke(ctx context.Context, messages []Message, schema map[string]any, tools []ToolSpec, maxTokens int) (ChatOut, error)
	// Stream is the token-by-token variant; spec.md notes streaming through
	// subgraphs is out of core scope, but a direct LLM node may still use
	// this for its own output.
	Stream(ctx context.Context, messages []Message, maxTokens int) (<-chan StreamChunk, error)
}

// Message is one turn of a chat conversation, identical in shape to the
// teacher's model.Message.
type Message struct {
	Role    string
	Content string
}

// Standard roles, matching the teacher's model.Role* constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolSpec describes a callable tool offered to the LLM during an agent
// node's think/act loop.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested invocation of one of the offered ToolSpecs.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// ChatOut is an LLM response: free text, requested tool calls, or both,
// plus usage for cost accounting (spec.md §6, SPEC_FULL.md "cost
// accounting").
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// TokenUsage mirrors the teacher's cost.go usage accounting fields.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamChunk is one piece of a streamed LLM response. Err, if non-nil,
// terminates the stream early; the channel is still closed afterward.
type StreamChunk struct {
	Delta string
	Done  bool
	Err   error
}

// Tool is the registry contract a tool/python/agent node dispatches
// through, per spec.md §6. Grounded on the teacher's tool.Tool interface
// (graph/tool/tool.go).
type Tool interface {
	Name() string
	Call(ctx context.Context, args map[string]any) (any, error)
}

// PromptExecutor resolves and renders a named prompt file, invokes the LLM,
// and returns a structured value, per spec.md §6. provider/model/maxTokens
// of their zero value mean "use graph defaults".
type PromptExecutor interface {
	Execute(ctx context.Context, promptName string, variables map[string]any, schema map[string]any, provider, model string, maxTokens int, graphDir string) (any, error)
}

// UsageReporter is an optional capability of a PromptExecutor: an executor
// that can attribute token usage to the underlying LLM call implements it,
// and node kinds type-assert for it (the net/http http.Flusher pattern)
// rather than widening PromptExecutor itself, so callers that only need
// structured output are unaffected. Nodes use it to populate `_token_usage`
// (FieldTokenUsage); CostTracker recording happens inside prompt.Executor
// when its Costs field is set.
type UsageReporter interface {
	ExecuteWithUsage(ctx context.Context, promptName string, variables map[string]any, schema map[string]any, provider, model string, maxTokens int, graphDir string) (any, TokenUsage, error)
}

// CheckpointStore is the non-generic persistence contract, per spec.md §6.
// Grounded on the teacher's store.Store[S] (graph/store/store.go),
// specialized to the concrete State type since there is no longer a
// compile-time state parameter to thread through.
type CheckpointStore interface {
	// Get returns the latest checkpoint for threadID, or (nil, nil) if none
	// exists yet — a missing thread is not an error at this layer.
	Get(ctx context.Context, threadID string) (*CheckpointTuple, error)
	Put(ctx context.Context, threadID string, checkpoint Checkpoint, metadata CheckpointMetadata) error
	List(ctx context.Context, threadID string, limit int) ([]CheckpointTuple, error)
	Delete(ctx context.Context, threadID string) error
}
