// Package render talks to the external rendering engine. The engine is a
// collaborator, not part of this system: it accepts a finished edit document,
// returns a job id, and later reports completion through the callback
// endpoint.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cutline/internal/config"
	"cutline/internal/timeline"
)

// Dispatcher submits a sanitized document for rendering and returns the
// provider's job identifier.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (jobID string, err error)
}

// Request is the wire shape of a render submission.
type Request struct {
	ProjectID   string            `json:"projectId"`
	Timeline    timeline.Document `json:"timeline"`
	CallbackURL string            `json:"callbackUrl,omitempty"`
}

type response struct {
	JobID string `json:"jobId"`
}

// ErrNotConfigured is returned when no render service URL is configured.
var ErrNotConfigured = errors.New("render service not configured")

// Client is the HTTP Dispatcher.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewClient(cfg config.RenderConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:    strings.TrimSpace(cfg.URL),
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Dispatch(ctx context.Context, r Request) (string, error) {
	if c.url == "" {
		return "", ErrNotConfigured
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal render request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("dispatch render: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("render service status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	if out.JobID == "" {
		return "", errors.New("render service returned empty job id")
	}
	return out.JobID, nil
}
