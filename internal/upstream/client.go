// Package upstream speaks to the externally hosted answer-generation
// backend: a streaming ask endpoint plus an async task API used when
// streaming is unavailable.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"askbase/internal/config"
	"askbase/internal/evidence"
)

// AskRequest carries one question to the backend.
type AskRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode,omitempty"`
}

// TaskStatus is the backend's view of an async generation task.
type TaskStatus struct {
	Status         string              `json:"status"`
	Answer         string              `json:"answer,omitempty"`
	Matches        []evidence.RawMatch `json:"matches,omitempty"`
	Detail         string              `json:"detail,omitempty"`
	ThinkingStatus string              `json:"thinking_status,omitempty"`
	ThinkingSteps  []string            `json:"thinking_steps,omitempty"`
	Mode           string              `json:"mode,omitempty"`
	RoutingReason  string              `json:"routing_reason,omitempty"`
}

// Task statuses reported by the backend.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Client is what the orchestrator needs from the backend.
type Client interface {
	// StreamAsk opens a live event stream for the question. The caller
	// owns the returned body and must close it.
	StreamAsk(ctx context.Context, req AskRequest) (io.ReadCloser, error)
	// CreateTask registers an async generation and returns its task id.
	CreateTask(ctx context.Context, req AskRequest) (string, error)
	// PollTask fetches the current state of an async task.
	PollTask(ctx context.Context, taskID string) (*TaskStatus, error)
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient builds the HTTP-backed client from app config. The request
// timeout only bounds task create/poll calls; streams run until the
// context or the backend ends them.
func NewClient(cfg *config.Config) Client {
	return &httpClient{
		baseURL: cfg.Backend.BaseURL,
		apiKey:  cfg.Backend.APIKey,
		client: &http.Client{
			Timeout: time.Duration(cfg.Backend.RequestTimeoutSeconds) * time.Second,
		},
	}
}

func (c *httpClient) StreamAsk(ctx context.Context, ask AskRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(ask)
	if err != nil {
		return nil, fmt.Errorf("marshal ask request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout here: a healthy stream can outlive any fixed
	// per-request budget.
	streamClient := &http.Client{Transport: c.client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open answer stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newStatusError(resp)
	}
	return resp.Body, nil
}

func (c *httpClient) CreateTask(ctx context.Context, ask AskRequest) (string, error) {
	body, err := json.Marshal(ask)
	if err != nil {
		return "", fmt.Errorf("marshal task request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask/tasks", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create task request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", newStatusError(resp)
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode task response: %w", err)
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("backend returned empty task id")
	}
	return out.TaskID, nil
}

func (c *httpClient) PollTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ask/tasks/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll task: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTaskNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp)
	}

	var status TaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode task status: %w", err)
	}
	return &status, nil
}

func (c *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
