// Package agenthub is a thin Go client for the AgentHub REST API.
package agenthub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 60 * time.Second

// Client wraps the HTTP interactions with the AgentHub REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Command is the payload accepted by SubmitCommand.
type Command struct {
	Command   string         `json:"command"`
	SessionID string         `json:"session_id,omitempty"`
	Target    string         `json:"target,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Payload is a typed structured payload attached to a result.
type Payload struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Result mirrors the uniform result envelope returned by every operation.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Code    string   `json:"code,omitempty"`
	Payload *Payload `json:"embeddedPayload,omitempty"`
}

// CommandResponse is returned by SubmitCommand.
type CommandResponse struct {
	SessionID string `json:"session_id"`
	Result    Result `json:"result"`
}

// Worker describes one registered worker.
type Worker struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Capabilities []string        `json:"capabilities"`
	Status       string          `json:"status"`
	LastActivity time.Time       `json:"last_activity,omitempty"`
	Metrics      json.RawMessage `json:"metrics"`
}

// Snapshot is the registry view returned by the server.
type Snapshot struct {
	Workers   []Worker        `json:"workers"`
	Metrics   json.RawMessage `json:"metrics"`
	InFlight  int             `json:"in_flight"`
	Pipelines []string        `json:"pipelines"`
}

// Interaction is one entry in a session history.
type Interaction struct {
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	At         time.Time `json:"at"`
}

// Session is the shared context of one conversation.
type Session struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Interactions []Interaction  `json:"interactions"`
	Shared       map[string]any `json:"shared"`
}

// APIError is returned for transport-level failures (plain-text bodies).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agenthub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentHub API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitCommand sends a command for routing and execution. A failed Result is
// not an error: the envelope is returned as-is together with the session id.
func (c *Client) SubmitCommand(ctx context.Context, cmd Command) (CommandResponse, error) {
	var out CommandResponse
	err := c.post(ctx, "/api/v1/commands", cmd, &out)
	return out, err
}

// Snapshot fetches the registry snapshot.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := c.get(ctx, "/api/v1/registry", &out)
	return out, err
}

// Session fetches a session by id.
func (c *Client) Session(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.get(ctx, "/api/v1/sessions/"+id, &out)
	return out, err
}

// Reactivate asks the server to reactivate an inactive worker.
func (c *Client) Reactivate(ctx context.Context, idOrName string) (Result, error) {
	var out Result
	err := c.post(ctx, "/api/v1/workers/"+idOrName+"/reactivate", nil, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	isJSON := resp.Header.Get("Content-Type") == "application/json"
	if resp.StatusCode >= 400 && !isJSON {
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
