package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPTool adapts a single tool exposed by a Model Context Protocol server
// to graph.Tool, so tool/agent nodes can call out to MCP servers the same
// way they call HTTPTool or any other registered tool.
//
// Grounded on the MCP server side of the teacher pack (e.g.
// ternarybob-iter's index/mcp_server.go, which registers tools via
// mark3labs/mcp-go/mcp and server) mirrored onto the client side of the
// same library: MCPTool wraps an already-initialized *client.Client and a
// discovered tool name, translating graph.Tool.Call's map[string]any args
// into an mcp.CallToolRequest and the result's content blocks back into a
// plain Go value.
type MCPTool struct {
	client   *client.Client
	toolName string
}

// NewMCPTool wraps toolName as a graph.Tool, dispatching calls through an
// already-initialized MCP client connection.
func NewMCPTool(mcpClient *client.Client, toolName string) *MCPTool {
	return &MCPTool{client: mcpClient, toolName: toolName}
}

// Name implements graph.Tool.
func (t *MCPTool) Name() string { return t.toolName }

// Call implements graph.Tool, invoking the MCP tool and flattening its
// content blocks into a single result value.
func (t *MCPTool) Call(ctx context.Context, args map[string]interface{}) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.toolName
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %q call failed: %w", t.toolName, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool %q returned an error: %s", t.toolName, flattenContent(result.Content))
	}
	return decodeContent(result.Content), nil
}

// DiscoverMCPTools connects an already-initialized MCP client's advertised
// tools to graph.Tool implementations, one per tool, keyed by tool name.
func DiscoverMCPTools(ctx context.Context, mcpClient *client.Client) (map[string]*MCPTool, error) {
	listing, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}

	tools := make(map[string]*MCPTool, len(listing.Tools))
	for _, decl := range listing.Tools {
		tools[decl.Name] = NewMCPTool(mcpClient, decl.Name)
	}
	return tools, nil
}

// flattenContent joins MCP text content blocks into a single string,
// for error messages where a single line is all that's needed.
func flattenContent(content []mcp.Content) string {
	var out string
	for _, block := range content {
		if text, ok := block.(mcp.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += text.Text
		}
	}
	return out
}

// decodeContent converts MCP content blocks to a plain Go value: a single
// text block's JSON is unmarshaled when possible (tools commonly return
// structured JSON as text), otherwise raw text blocks are joined and
// non-text blocks pass through as their own type.
func decodeContent(content []mcp.Content) any {
	if len(content) == 1 {
		if text, ok := content[0].(mcp.TextContent); ok {
			var decoded any
			if err := json.Unmarshal([]byte(text.Text), &decoded); err == nil {
				return decoded
			}
			return text.Text
		}
	}

	out := make([]any, len(content))
	for i, block := range content {
		if text, ok := block.(mcp.TextContent); ok {
			out[i] = text.Text
			continue
		}
		out[i] = block
	}
	return out
}
