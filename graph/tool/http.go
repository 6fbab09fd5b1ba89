package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// HTTPTool is the graph.Tool that tool/agent nodes use to reach external
// REST APIs and webhooks without a node-specific HTTP client. It is the
// tool most often registered for the "fetch data, let the LLM reason over
// it" shape described in SPEC_FULL.md's tool-registry section.
//
// Input parameters:
//   - method: HTTP method ("GET" or "POST", defaults to "GET")
//   - url: target URL (required)
//   - headers: optional map of request headers
//   - body: optional request body (for POST requests)
//
// Output fields:
//   - status_code: HTTP status code (e.g., 200, 404)
//   - headers: response headers as a map
//   - body: raw response body as a string
//   - json: the body decoded as JSON when the response looks like JSON
//     (by Content-Type or a leading '{'/'['), nil otherwise. Malformed JSON
//     is passed through jsonrepair first, the same recovery
//     graph/prompt.Executor applies to LLM completions, since tool
//     responses proxied by flaky APIs are just as prone to near-JSON as
//     model output.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates an HTTP tool with a bounded per-request timeout; the
// timeout is distinct from (and tighter than) the ctx passed to Call, so a
// single slow endpoint can't silently run out a node's whole timeout budget.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements graph.Tool.
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Call executes one HTTP request for a tool/agent node and returns a result
// map shaped for direct state merging by a Schema's reducers.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (any, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("http_request: url parameter required (string)")
	}

	method := "GET"
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "POST" {
		return nil, fmt.Errorf("http_request: unsupported method %q (supported: GET, POST)", method)
	}

	var reqBody io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		reqBody = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("http_request: build request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_request: %s %s: %w", method, urlStr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http_request: read response body: %w", err)
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	result := map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
		"json":        decodeJSONBody(resp.Header.Get("Content-Type"), respBody),
	}

	return result, nil
}

// decodeJSONBody best-effort decodes body as JSON when the response
// declares a JSON content type or otherwise looks like one, repairing
// near-JSON via jsonrepair before giving up. Returns nil rather than an
// error since json is an optional convenience field on the result, not a
// contract the caller depends on.
func decodeJSONBody(contentType string, body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	looksJSON := strings.Contains(contentType, "json") ||
		trimmed[0] == '{' || trimmed[0] == '['
	if !looksJSON {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err == nil {
		return decoded
	}

	repaired, err := jsonrepair.JSONRepair(string(trimmed))
	if err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
		return nil
	}
	return decoded
}
