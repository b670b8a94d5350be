package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the AutoFi gate API.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	AgentID string // Agent identity attached to submitted transactions
	UserID  string // Acting user identity, used for approval decisions
}

// GateClient is a pure HTTP client for the AutoFi gate API.
type GateClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGateClient creates a new client for the gate API.
func NewGateClient(cfg Config) *GateClient {
	return &GateClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the gate.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the gate and returns the response body.
func (c *GateClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// gatePayload is the shared request shape for gate and assess calls.
type gatePayload struct {
	Transaction map[string]any `json:"transaction"`
}

func (c *GateClient) payload(to, value, data string, simulateOnly bool) gatePayload {
	tx := map[string]any{"to": to}
	if value != "" {
		tx["value"] = value
	}
	if data != "" {
		tx["data"] = data
	}
	if simulateOnly {
		tx["simulateOnly"] = true
	}
	if c.cfg.AgentID != "" {
		tx["agentId"] = c.cfg.AgentID
	}
	if c.cfg.UserID != "" {
		tx["userId"] = c.cfg.UserID
	}
	return gatePayload{Transaction: tx}
}

// Assess scores a transaction without creating any records.
func (c *GateClient) Assess(ctx context.Context, to, value, data string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/transactions/assess", nil, c.payload(to, value, data, false))
}

// Gate submits a transaction through the full gating decision.
func (c *GateClient) Gate(ctx context.Context, to, value, data string, simulateOnly bool) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/transactions/gate", nil, c.payload(to, value, data, simulateOnly))
}

// GetApproval fetches one approval request by ID.
func (c *GateClient) GetApproval(ctx context.Context, approvalID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/approvals/"+url.PathEscape(approvalID), nil, nil)
}

// ListPendingApprovals lists the pending approval queue.
func (c *GateClient) ListPendingApprovals(ctx context.Context, priority string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if priority != "" {
		q.Set("priority", priority)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/approvals", q, nil)
}
