package teamledgersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Teamledger HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// LegacyUserID sends the X-User-ID header instead of a bearer token when
	// the server allows it.
	LegacyUserID string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID         int64  `json:"id"`
	ProjectID  int64  `json:"project_id"`
	AssigneeID *int64 `json:"assignee_id,omitempty"`
	Title      string `json:"title"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
	Version    int64  `json:"version"`
}

// WorkLog represents an append-only provenance entry.
type WorkLog struct {
	ID         int64   `json:"id"`
	TaskID     int64   `json:"task_id"`
	UserID     int64   `json:"user_id"`
	Content    string  `json:"content"`
	HoursSpent float64 `json:"hours_spent"`
	CreatedAt  string  `json:"created_at"`
}

// Summary represents a synthesized report.
type Summary struct {
	Summary     string `json:"summary"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	GeneratedAt string `json:"generated_at"`
	ID          int64  `json:"id,omitempty"`
}

// LoginResult carries the session token returned by /login.
type LoginResult struct {
	Token string `json:"token"`
	User  struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a session token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var resp LoginResult
	err := c.do(ctx, http.MethodPost, "login", map[string]any{
		"email":    email,
		"password": password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID int64, title, priority string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", map[string]any{
		"project_id": projectID,
		"title":      title,
		"priority":   priority,
	}, &resp)
	return resp, err
}

// UpdateTask patches a task; fields carries the changes and version the token
// read earlier. A 409 means the version went stale.
func (c *Client) UpdateTask(ctx context.Context, taskID, version int64, fields map[string]any) (Task, error) {
	body := map[string]any{"version": version}
	for k, v := range fields {
		body[k] = v
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d", taskID), body, &resp)
	return resp, err
}

// CompleteTask moves a task to DONE; it fails without work-log provenance.
func (c *Client) CompleteTask(ctx context.Context, taskID, version int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/complete", taskID),
		map[string]any{"version_id": version}, &resp)
	return resp, err
}

// LogWork appends a work log to a task.
func (c *Client) LogWork(ctx context.Context, taskID int64, content string, hours float64) (WorkLog, error) {
	var resp WorkLog
	err := c.do(ctx, http.MethodPost, "logs", map[string]any{
		"task_id":     taskID,
		"content":     content,
		"hours_spent": hours,
	}, &resp)
	return resp, err
}

// ProjectSummary synthesizes a report for a project. reportType is one of
// daily, weekly, contributor_impact.
func (c *Client) ProjectSummary(ctx context.Context, projectID int64, reportType string) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/summary", projectID),
		map[string]any{"type": reportType}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.LegacyUserID != "":
		req.Header.Set("X-User-ID", c.LegacyUserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
