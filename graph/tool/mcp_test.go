package tool

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestDecodeContent_JSONText(t *testing.T) {
	content := []mcp.Content{mcp.TextContent{Type: "text", Text: `{"ok":true,"count":3}`}}
	decoded := decodeContent(content)

	m, ok := decoded.(map[string]interface{})
	if !ok {
		t.Fatalf("expected decoded JSON object, got %T", decoded)
	}
	if m["ok"] != true {
		t.Errorf("expected ok=true, got %v", m["ok"])
	}
}

func TestDecodeContent_PlainText(t *testing.T) {
	content := []mcp.Content{mcp.TextContent{Type: "text", Text: "not json"}}
	decoded := decodeContent(content)

	if decoded != "not json" {
		t.Errorf("expected raw text passthrough, got %v", decoded)
	}
}

func TestDecodeContent_MultipleBlocks(t *testing.T) {
	content := []mcp.Content{
		mcp.TextContent{Type: "text", Text: "first"},
		mcp.TextContent{Type: "text", Text: "second"},
	}
	decoded := decodeContent(content)

	list, ok := decoded.([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("expected 2-element slice, got %#v", decoded)
	}
	if list[0] != "first" || list[1] != "second" {
		t.Errorf("unexpected content order: %v", list)
	}
}

func TestFlattenContent(t *testing.T) {
	content := []mcp.Content{
		mcp.TextContent{Type: "text", Text: "line one"},
		mcp.TextContent{Type: "text", Text: "line two"},
	}
	got := flattenContent(content)
	want := "line one\nline two"
	if got != want {
		t.Errorf("flattenContent() = %q, want %q", got, want)
	}
}

func TestMCPTool_Name(t *testing.T) {
	mt := NewMCPTool(nil, "search")
	if mt.Name() != "search" {
		t.Errorf("Name() = %q, want %q", mt.Name(), "search")
	}
}
