// Package agenthubsdk is a minimal AgentHub HTTP API client.
package agenthubsdk

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

// Client talks to an AgentHub server.
type Client struct {
	BaseURL     string
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

// User represents the API user model.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Tier       string `json:"tier"`
	IsActive   bool   `json:"is_active"`
	LoginCount int    `json:"login_count"`
}

// Agent represents the API agent model (partial).
type Agent struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	AgentType        string   `json:"agent_type"`
	Status           string   `json:"status"`
	Capabilities     []string `json:"capabilities"`
	PerformanceScore float64  `json:"performance_score"`
	HealthScore      float64  `json:"health_score"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	TaskType    string  `json:"task_type"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	Progress    float64 `json:"progress"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Project represents the API project model.
type Project struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	OwnerID        string   `json:"owner_id"`
	AssignedAgents []string `json:"assigned_agents"`
	Progress       float64  `json:"progress"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
	Code       int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

// Register creates a user and stores the returned token on the client.
func (c *Client) Register(ctx context.Context, username, email, password string) (User, error) {
	var resp struct {
		User  User   `json:"user"`
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "api/auth/register", map[string]any{
		"username": username,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp struct {
		User  User   `json:"user"`
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "api/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp struct {
		User User `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "api/auth/me", nil, &resp)
	return resp.User, err
}

// Agents lists agents sorted by performance.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var resp struct {
		Agents []Agent `json:"agents"`
	}
	err := c.do(ctx, http.MethodGet, "api/agents", nil, &resp)
	return resp.Agents, err
}

// CreateTask queues a task for an agent.
func (c *Client) CreateTask(ctx context.Context, agentID, taskType, description, priority string) (Task, error) {
	var resp struct {
		Task Task `json:"task"`
	}
	endpoint := fmt.Sprintf("api/agents/%s/tasks", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{
		"task_type":   taskType,
		"description": description,
		"priority":    priority,
	}, &resp)
	return resp.Task, err
}

// CreateProject creates a project owned by the authenticated user.
func (c *Client) CreateProject(ctx context.Context, name, description string, agents []string) (Project, error) {
	var resp struct {
		Project Project `json:"project"`
	}
	err := c.do(ctx, http.MethodPost, "api/projects", map[string]any{
		"name":            name,
		"description":     description,
		"assigned_agents": agents,
	}, &resp)
	return resp.Project, err
}

// Projects lists projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	err := c.do(ctx, http.MethodGet, "api/projects", nil, &resp)
	return resp.Projects, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error string `json:"error"`
			Code  int    `json:"code"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Message = envelope.Error
			apiErr.Code = envelope.Code
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
