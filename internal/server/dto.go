package server

import (
	"agenthub/internal/domain"
	"agenthub/internal/engine"
)

// Request payloads

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty" enum:"user,admin"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateAgentRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	AgentType     string         `json:"agent_type"`
	Version       string         `json:"version,omitempty"`
	Capabilities  []string       `json:"capabilities,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

type SetAgentStatusRequest struct {
	Status string `json:"status" enum:"inactive,active,error"`
}

type CreateTaskRequest struct {
	TaskType           string         `json:"task_type"`
	Description        string         `json:"description,omitempty"`
	Priority           string         `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Input              map[string]any `json:"input,omitempty"`
	EstimatedDurationS *int           `json:"estimated_duration_s,omitempty"`
}

type CompleteTaskRequest struct {
	Output map[string]any `json:"output,omitempty"`
}

type FailTaskRequest struct {
	ErrorMessage string `json:"error_message"`
}

type CreateProjectRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	AssignedAgents []string `json:"assigned_agents,omitempty"`
}

// Response payloads. Every success body leads with the envelope flag.

type BannerResponse struct {
	Success bool   `json:"success"`
	Service string `json:"service"`
	Version string `json:"version"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type AuthResponse struct {
	Success bool        `json:"success"`
	User    domain.User `json:"user"`
	Token   string      `json:"token"`
}

type UserResponse struct {
	Success bool        `json:"success"`
	User    domain.User `json:"user"`
}

type UsersResponse struct {
	Success bool          `json:"success"`
	Users   []domain.User `json:"users"`
}

type AgentResponse struct {
	Success bool         `json:"success"`
	Agent   domain.Agent `json:"agent"`
}

type AgentsResponse struct {
	Success bool           `json:"success"`
	Agents  []domain.Agent `json:"agents"`
}

type TaskResponse struct {
	Success bool        `json:"success"`
	TaskID  string      `json:"task_id"`
	Task    domain.Task `json:"task"`
}

type ProjectResponse struct {
	Success bool           `json:"success"`
	Project domain.Project `json:"project"`
}

type ProjectsResponse struct {
	Success  bool             `json:"success"`
	Projects []domain.Project `json:"projects"`
}

type AnalyticsResponse struct {
	Success bool                     `json:"success"`
	Metrics []domain.AnalyticsSample `json:"metrics"`
}

type MetricResponse struct {
	Success bool                   `json:"success"`
	Metric  domain.AnalyticsSample `json:"metric"`
}

type DashboardResponse struct {
	Success   bool             `json:"success"`
	Dashboard engine.Dashboard `json:"dashboard"`
}
