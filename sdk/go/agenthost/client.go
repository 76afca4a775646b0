// Package agenthost is a Go client for the AgentHost REST API.
package agenthost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Task status values reported by the server.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with an agenthostd instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// AgentInfo describes one loaded agent.
type AgentInfo struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Dir         string   `json:"dir,omitempty"`
	Source      string   `json:"source,omitempty"`
	Hooks       []string `json:"hooks"`
	Status      string   `json:"status,omitempty"`
}

// AgentList is the response of ListAgents. Failures maps agent names that
// could not be loaded to the reason.
type AgentList struct {
	Agents   []AgentInfo       `json:"agents"`
	Failures map[string]string `json:"failures,omitempty"`
}

// Reply is the synchronous result of Process.
type Reply struct {
	Agent    string `json:"agent"`
	Response string `json:"response"`
	Failed   bool   `json:"failed"`
}

// TaskSubmission is the payload required to queue a command.
type TaskSubmission struct {
	ID       string         `json:"id,omitempty"`
	Agent    string         `json:"agent"`
	Command  string         `json:"command"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskResult is the output recorded for a finished task.
type TaskResult struct {
	Output       string `json:"output"`
	Failed       bool   `json:"failed"`
	AgentVersion string `json:"agent_version,omitempty"`
}

// Task is the server's view of a queued command.
type Task struct {
	ID         string         `json:"id"`
	Agent      string         `json:"agent"`
	Command    string         `json:"command"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *TaskResult    `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Done reports whether the task will not change any more.
func (t Task) Done() bool {
	return t.Status == StatusSucceeded || (t.Status == StatusFailed && t.Attempts >= t.MaxRetries)
}

// TaskQuery filters ListTasks. Zero values are omitted.
type TaskQuery struct {
	Limit    int
	Offset   int
	Statuses []string
	Agent    string
	Query    string
}

func (q TaskQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.Agent != "" {
		v.Set("agent", q.Agent)
	}
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	return v
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agenthost api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agenthost api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient creates a client for the server at rawURL. When httpClient is nil
// a client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Health returns the raw health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAgents loads and lists every agent known to the server.
func (c *Client) ListAgents(ctx context.Context) (AgentList, error) {
	var out AgentList
	err := c.do(ctx, http.MethodGet, "/api/agents", nil, nil, &out)
	return out, err
}

// GetAgent describes one agent.
func (c *Client) GetAgent(ctx context.Context, name string) (AgentInfo, error) {
	var out AgentInfo
	err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(name), nil, nil, &out)
	return out, err
}

// Process dispatches command to agent and waits for the reply.
func (c *Client) Process(ctx context.Context, agent, command string) (Reply, error) {
	var out Reply
	body := map[string]string{"agent": agent, "command": command}
	err := c.do(ctx, http.MethodPost, "/api/process", nil, body, &out)
	return out, err
}

// SubmitTask queues a command for asynchronous execution.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var out Task
	err := c.do(ctx, http.MethodPost, "/api/v1/tasks", nil, submission, &out)
	return out, err
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var out Task
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// ListTasks returns tasks matching q.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) ([]Task, error) {
	var out []Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WaitTask polls GetTask every interval until the task is done or ctx ends.
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, id)
		if err != nil {
			return Task{}, err
		}
		if t.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, endpoint)})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
