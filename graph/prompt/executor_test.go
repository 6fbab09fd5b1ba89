package prompt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/corewald/flowgraph/graph"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	promptsDir := filepath.Join(dir, "prompts")
	if err := os.MkdirAll(promptsDir, 0o755); err != nil {
		t.Fatalf("mkdir prompts dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(promptsDir, name+".tmpl"), []byte(content), 0o644); err != nil {
		t.Fatalf("write prompt %q: %v", name, err)
	}
}

func TestExecutor_ResolvesGraphRelativeFirst(t *testing.T) {
	graphDir := t.TempDir()
	globalDir := t.TempDir()

	writePrompt(t, graphDir, "greet", "graph-local: hello {{.name}}")
	writePrompt(t, globalDir, "greet", "global: hello {{.name}}")

	var sent string
	client := &stubClient{response: "ok"}
	exec := NewExecutor(globalDir, func(string, string) (graph.LLMClient, error) { return client, nil }, "stub", "stub-model", 100)

	_, err := exec.Execute(context.Background(), "greet", map[string]any{"name": "Ada"}, nil, "", "", 0, graphDir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	sent = client.lastMessages[0].Content
	if sent != "graph-local: hello Ada" {
		t.Errorf("expected graph-relative prompt to win, got %q", sent)
	}
}

func TestExecutor_FallsBackToGlobalDir(t *testing.T) {
	graphDir := t.TempDir()
	globalDir := t.TempDir()
	writePrompt(t, globalDir, "greet", "global: hello {{.name}}")

	client := &stubClient{response: "ok"}
	exec := NewExecutor(globalDir, func(string, string) (graph.LLMClient, error) { return client, nil }, "stub", "stub-model", 100)

	_, err := exec.Execute(context.Background(), "greet", map[string]any{"name": "Ada"}, nil, "", "", 0, graphDir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.lastMessages[0].Content != "global: hello Ada" {
		t.Errorf("expected global prompt, got %q", client.lastMessages[0].Content)
	}
}

func TestExecutor_MissingPromptIsError(t *testing.T) {
	exec := NewExecutor(t.TempDir(), func(string, string) (graph.LLMClient, error) { return &stubClient{}, nil }, "stub", "m", 100)
	_, err := exec.Execute(context.Background(), "nonexistent", nil, nil, "", "", 0, t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing prompt file")
	}
}

func TestExecutor_RawStringWithoutSchema(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "ask", "plain prompt")

	client := &stubClient{response: "free-form text"}
	exec := NewExecutor("", func(string, string) (graph.LLMClient, error) { return client, nil }, "stub", "m", 100)

	out, err := exec.Execute(context.Background(), "ask", nil, nil, "", "", 0, dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "free-form text" {
		t.Errorf("expected raw text passthrough, got %v", out)
	}
}

func TestExecutor_ParsesStructuredOutputWithSchema(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "ask", "give me json")

	client := &stubClient{response: `{"answer": 42}`}
	exec := NewExecutor("", func(string, string) (graph.LLMClient, error) { return client, nil }, "stub", "m", 100)

	out, err := exec.Execute(context.Background(), "ask", nil, map[string]any{"type": "object"}, "", "", 0, dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", out)
	}
	if m["answer"].(float64) != 42 {
		t.Errorf("expected answer=42, got %v", m["answer"])
	}
}

func TestExecutor_RepairsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "ask", "give me json")

	// Trailing comma: invalid strict JSON, recoverable by jsonrepair.
	client := &stubClient{response: `{"answer": 42,}`}
	exec := NewExecutor("", func(string, string) (graph.LLMClient, error) { return client, nil }, "stub", "m", 100)

	out, err := exec.Execute(context.Background(), "ask", nil, map[string]any{"type": "object"}, "", "", 0, dir)
	if err != nil {
		t.Fatalf("expected repair to succeed, got %v", err)
	}
	m := out.(map[string]any)
	if m["answer"].(float64) != 42 {
		t.Errorf("expected answer=42 after repair, got %v", m["answer"])
	}
}

func TestExecutor_IncludeDirective(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "header", "You are a helpful assistant.")
	writePrompt(t, dir, "main", "{{include \"header\"}}\nUser: {{.question}}")

	client := &stubClient{response: "ok"}
	exec := NewExecutor("", func(string, string) (graph.LLMClient, error) { return client, nil }, "stub", "m", 100)

	_, err := exec.Execute(context.Background(), "main", map[string]any{"question": "why?"}, nil, "", "", 0, dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := "You are a helpful assistant.\nUser: why?"
	if client.lastMessages[0].Content != want {
		t.Errorf("expected rendered include, got %q", client.lastMessages[0].Content)
	}
}

func TestExecutor_CircularIncludeIsRejected(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "a", "{{include \"b\"}}")
	writePrompt(t, dir, "b", "{{include \"a\"}}")

	exec := NewExecutor("", func(string, string) (graph.LLMClient, error) { return &stubClient{}, nil }, "stub", "m", 100)

	_, err := exec.Execute(context.Background(), "a", nil, nil, "", "", 0, dir)
	if err == nil {
		t.Fatal("expected circular-include error")
	}
}

func TestExecutor_CachesResolvedClientPerProviderModel(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "ask", "hi")

	factoryCalls := 0
	exec := NewExecutor("", func(string, string) (graph.LLMClient, error) {
		factoryCalls++
		return &stubClient{response: "ok"}, nil
	}, "stub", "m", 100)

	for i := 0; i < 3; i++ {
		if _, err := exec.Execute(context.Background(), "ask", nil, nil, "", "", 0, dir); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	if factoryCalls != 1 {
		t.Errorf("expected factory called once (cached thereafter), got %d", factoryCalls)
	}
}

func TestExecutor_PropagatesClientError(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "ask", "hi")

	client := &stubClient{err: errors.New("provider unavailable")}
	exec := NewExecutor("", func(string, string) (graph.LLMClient, error) { return client, nil }, "stub", "m", 100)

	_, err := exec.Execute(context.Background(), "ask", nil, nil, "", "", 0, dir)
	if err == nil {
		t.Fatal("expected error from LLM client")
	}
}

type stubClient struct {
	response     string
	err          error
	lastMessages []graph.Message
}

func (s *stubClient) Invoke(_ context.Context, messages []graph.Message, _ map[string]any, _ []graph.ToolSpec, _ int) (graph.ChatOut, error) {
	s.lastMessages = messages
	if s.err != nil {
		return graph.ChatOut{}, s.err
	}
	return graph.ChatOut{Text: s.response}, nil
}

func (s *stubClient) Stream(_ context.Context, _ []graph.Message, _ int) (<-chan graph.StreamChunk, error) {
	ch := make(chan graph.StreamChunk, 1)
	ch <- graph.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}
