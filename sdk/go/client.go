package formtracksdk

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

// Client is a minimal Formtrack HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Training represents the API training model (partial).
type Training struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Municipality string `json:"municipality,omitempty"`
	Status       string `json:"status"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	DueDate     string `json:"due_date,omitempty"`
	Origin      string `json:"origin"`
	TrainingID  string `json:"training_id,omitempty"`
}

// StatusChange is the result of a training status move.
type StatusChange struct {
	Training Training `json:"training"`
	Task     *Task    `json:"task,omitempty"`
}

// ProjectView is a dashboard row.
type ProjectView struct {
	ID           string  `json:"id"`
	Municipality string  `json:"municipality"`
	Completion   float64 `json:"completion"`
	NextName     string  `json:"next_milestone,omitempty"`
	NextDate     string  `json:"next_milestone_date,omitempty"`
	TaskCount    int     `json:"task_count"`
	UrgentCount  int     `json:"urgent_count"`
	OverdueCount int     `json:"overdue_count"`
}

// ScheduleEntry is one week-ahead item.
type ScheduleEntry struct {
	Kind     string `json:"kind"`
	Date     string `json:"date"`
	Label    string `json:"label"`
	EntityID string `json:"entity_id"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a manual task.
func (c *Client) CreateTask(ctx context.Context, description, priority string) (Task, error) {
	body := map[string]any{
		"description": description,
	}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// SetTrainingStatus moves a training through its lifecycle and returns any
// automatically spawned follow-up task.
func (c *Client) SetTrainingStatus(ctx context.Context, trainingID, status string) (StatusChange, error) {
	body := map[string]any{"status": status}
	var resp StatusChange
	endpoint := fmt.Sprintf("v0/trainings/%s/status", url.PathEscape(trainingID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// DashboardProjects returns project views ordered by attention need.
func (c *Client) DashboardProjects(ctx context.Context) ([]ProjectView, error) {
	var resp []ProjectView
	err := c.do(ctx, http.MethodGet, "v0/dashboard/projects", nil, &resp)
	return resp, err
}

// WeekAhead returns the upcoming schedule entries.
func (c *Client) WeekAhead(ctx context.Context) ([]ScheduleEntry, error) {
	var resp []ScheduleEntry
	err := c.do(ctx, http.MethodGet, "v0/dashboard/week-ahead", nil, &resp)
	return resp, err
}

// Events returns the latest audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/events?limit=%d", limit), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
