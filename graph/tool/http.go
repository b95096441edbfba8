package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPTool calls an ability hosted by a remote ability server.
//
// The request is a POST of {"params": input} to <baseURL>/abilities/<name>;
// the response body must be a JSON object, returned as the tool output.
// Non-2xx responses are errors carrying the status and body.
type HTTPTool struct {
	ability string
	baseURL string
	headers map[string]string
	client  *http.Client
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPTool) { h.client = c }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPTool) { h.headers[key] = value }
}

// NewHTTPTool creates a remote ability client.
func NewHTTPTool(baseURL, ability string, opts ...HTTPOption) *HTTPTool {
	h := &HTTPTool{
		ability: ability,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: map[string]string{},
		client:  &http.Client{
			// Timeout handled via context
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Tool.
func (h *HTTPTool) Name() string { return h.ability }

// Call implements Tool.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(map[string]interface{}{"params": input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/abilities/"+h.ability, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ability %s returned %d: %s", h.ability, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out := map[string]interface{}{}
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("ability %s returned invalid JSON: %w", h.ability, err)
	}
	return out, nil
}
