package domain

import "fmt"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

const (
	AgentInactive = "inactive"
	AgentActive   = "active"
	AgentError    = "error"
)

const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

const (
	ProjectActive   = "active"
	ProjectPaused   = "paused"
	ProjectArchived = "archived"
)

type User struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	Role         string  `json:"role" enum:"user,admin"`
	Tier         string  `json:"tier"`
	IsActive     bool    `json:"is_active"`
	LastLoginAt  *string `json:"last_login_at,omitempty" format:"date-time"`
	LoginCount   int     `json:"login_count"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Agent struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Description         string         `json:"description,omitempty"`
	AgentType           string         `json:"agent_type"`
	Status              string         `json:"status" enum:"inactive,active,error"`
	Version             string         `json:"version"`
	Capabilities        []string       `json:"capabilities"`
	PerformanceScore    float64        `json:"performance_score"`
	CurrentTask         *string        `json:"current_task,omitempty"`
	Configuration       map[string]any `json:"configuration,omitempty"`
	HealthScore         float64        `json:"health_score"`
	LastActivityAt      string         `json:"last_activity_at" format:"date-time"`
	ActiveTasks         int            `json:"active_tasks"`
	TotalTasksCompleted int            `json:"total_tasks_completed"`
	ErrorCount          int            `json:"error_count"`
	SuccessRate         float64        `json:"success_rate"`
	CreatedAt           string         `json:"created_at" format:"date-time"`
	UpdatedAt           string         `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID                 string         `json:"id"`
	AgentID            string         `json:"agent_id"`
	TaskType           string         `json:"task_type"`
	Description        string         `json:"description,omitempty"`
	Priority           string         `json:"priority" enum:"low,medium,high,urgent"`
	Status             string         `json:"status" enum:"pending,running,completed,failed,cancelled"`
	Input              map[string]any `json:"input,omitempty"`
	Output             map[string]any `json:"output,omitempty"`
	ErrorMessage       *string        `json:"error_message,omitempty"`
	Progress           float64        `json:"progress"`
	EstimatedDurationS *int           `json:"estimated_duration_s,omitempty"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
	StartedAt          *string        `json:"started_at,omitempty" format:"date-time"`
	CompletedAt        *string        `json:"completed_at,omitempty" format:"date-time"`
}

type Project struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status" enum:"active,paused,archived"`
	OwnerID        string   `json:"owner_id"`
	AssignedAgents []string `json:"assigned_agents"`
	Progress       float64  `json:"progress"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type AnalyticsSample struct {
	ID          string         `json:"id"`
	MetricName  string         `json:"metric_name"`
	MetricValue float64        `json:"metric_value"`
	MetricData  map[string]any `json:"metric_data,omitempty"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	RecordedAt  string         `json:"recorded_at" format:"date-time"`
}

// IsTerminalTaskStatus reports whether a task status permits no further transitions.
func IsTerminalTaskStatus(status string) bool {
	switch status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}
