// Package cutlinesdk is a minimal typed client for the Cutline HTTP API.
package cutlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one Cutline server.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. "http://127.0.0.1:8470/v1".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project is the API project model.
type Project struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	RenderJobID *string `json:"render_job_id,omitempty"`
	VideoURL    *string `json:"video_url,omitempty"`
	ScheduledAt *string `json:"scheduled_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Edit wraps a project's stored edit document.
type Edit struct {
	ProjectID string          `json:"project_id"`
	Exists    bool            `json:"exists"`
	Document  json.RawMessage `json:"document"`
}

// RenderJob is the API render job model.
type RenderJob struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Status       string  `json:"status"`
	ProviderID   *string `json:"provider_id,omitempty"`
	OutputURL    *string `json:"output_url,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Notification is the API notification model.
type Notification struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	ProjectID string  `json:"project_id"`
	JobID     *string `json:"job_id,omitempty"`
	Kind      string  `json:"kind"`
	Message   string  `json:"message"`
	IsRead    bool    `json:"is_read"`
	CreatedAt string  `json:"created_at"`
}

// Event is one audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project in its entry state.
func (c *Client) CreateProject(ctx context.Context, userID, title string, autopilot bool) (Project, error) {
	body := map[string]any{
		"user_id":   userID,
		"title":     title,
		"autopilot": autopilot,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListProjects lists projects, optionally filtered by owner.
func (c *Client) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	endpoint := "projects"
	if userID != "" {
		endpoint += "?user_id=" + url.QueryEscape(userID)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetStatus applies a user-driven status transition.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "projects/"+url.PathEscape(id)+"/status", map[string]any{"status": status}, &resp)
	return resp, err
}

// Schedule moves a rendered project to scheduled, recording the publish time.
func (c *Client) Schedule(ctx context.Context, id, scheduledAt string) (Project, error) {
	var resp Project
	body := map[string]any{"status": "scheduled"}
	if scheduledAt != "" {
		body["scheduled_at"] = scheduledAt
	}
	err := c.do(ctx, http.MethodPatch, "projects/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// SaveEdit stores an edit document; the returned edit is the sanitized form.
func (c *Client) SaveEdit(ctx context.Context, id string, document json.RawMessage) (Edit, error) {
	var resp Edit
	err := c.do(ctx, http.MethodPut, "projects/"+url.PathEscape(id)+"/edit", map[string]any{"document": document}, &resp)
	return resp, err
}

// GetEdit fetches the stored edit document.
func (c *Client) GetEdit(ctx context.Context, id string) (Edit, error) {
	var resp Edit
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id)+"/edit", nil, &resp)
	return resp, err
}

// SubmitRender submits a document for rendering. A nil document submits the
// project's stored edit.
func (c *Client) SubmitRender(ctx context.Context, id string, document json.RawMessage) (RenderJob, error) {
	body := map[string]any{}
	if document != nil {
		body["document"] = document
	}
	var resp RenderJob
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(id)+"/renders", body, &resp)
	return resp, err
}

// ListRenderJobs lists a project's render jobs, newest first.
func (c *Client) ListRenderJobs(ctx context.Context, id string) ([]RenderJob, error) {
	var resp []RenderJob
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id)+"/jobs", nil, &resp)
	return resp, err
}

// Notifications lists a user's notifications.
func (c *Client) Notifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	endpoint := "notifications?user_id=" + url.QueryEscape(userID)
	if unreadOnly {
		endpoint += "&unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// Events returns audit events after the given id.
func (c *Client) Events(ctx context.Context, after int64, limit int, projectID string) ([]Event, error) {
	endpoint := fmt.Sprintf("events?after=%d", after)
	if limit > 0 {
		endpoint += fmt.Sprintf("&limit=%d", limit)
	}
	if projectID != "" {
		endpoint += "&project_id=" + url.QueryEscape(projectID)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	reqURL := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
