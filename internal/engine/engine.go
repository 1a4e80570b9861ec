// Package engine holds the orchestration rules that sit between the
// HTTP surface and storage.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"

	"agenthub/internal/domain"
	"agenthub/internal/repo"
)

// TransitionError reports a task lifecycle move the state machine
// forbids.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot transition task from %s to %s", e.From, e.To)
}

// Engine applies orchestration rules over the repository.
type Engine struct {
	Repo      repo.Repo
	Now       func() time.Time
	StartedAt time.Time
}

func New(r repo.Repo) *Engine {
	return &Engine{Repo: r, Now: time.Now, StartedAt: time.Now()}
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// Uptime reports how long the engine has been running.
func (e *Engine) Uptime() time.Duration {
	return e.Now().Sub(e.StartedAt)
}

type CreateAgentInput struct {
	Name          string
	Description   string
	AgentType     string
	Version       string
	Capabilities  []string
	Configuration map[string]any
}

func (e *Engine) CreateAgent(ctx context.Context, in CreateAgentInput) (domain.Agent, error) {
	if in.Name == "" {
		return domain.Agent{}, domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if in.AgentType == "" {
		return domain.Agent{}, domain.ValidationError{Field: "agent_type", Reason: "must not be empty"}
	}
	version := in.Version
	if version == "" {
		version = "1.0.0"
	}
	caps := in.Capabilities
	if caps == nil {
		caps = []string{}
	}
	now := e.now()
	a := domain.Agent{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Description:    in.Description,
		AgentType:      in.AgentType,
		Status:         domain.AgentInactive,
		Version:        version,
		Capabilities:   caps,
		Configuration:  in.Configuration,
		HealthScore:    100,
		SuccessRate:    1,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertAgent(ctx, a); err != nil {
		return domain.Agent{}, err
	}
	xlog.Info("agent created", "agent_id", a.ID, "name", a.Name, "type", a.AgentType)
	return a, nil
}

func (e *Engine) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return e.Repo.GetAgent(ctx, id)
}

func (e *Engine) ListAgents(ctx context.Context, f repo.AgentFilters) ([]domain.Agent, error) {
	return e.Repo.ListAgents(ctx, f)
}

// SetAgentStatus moves an agent between inactive, active and error.
func (e *Engine) SetAgentStatus(ctx context.Context, id, status string) (domain.Agent, error) {
	switch status {
	case domain.AgentInactive, domain.AgentActive, domain.AgentError:
	default:
		return domain.Agent{}, domain.ValidationError{Field: "status", Reason: "must be inactive, active or error"}
	}
	now := e.now()
	upd := repo.AgentUpdate{Status: &status, LastActivityAt: &now}
	if err := e.Repo.UpdateAgent(ctx, nil, id, upd, now); err != nil {
		return domain.Agent{}, err
	}
	xlog.Info("agent status changed", "agent_id", id, "status", status)
	return e.Repo.GetAgent(ctx, id)
}

type CreateTaskInput struct {
	AgentID            string
	TaskType           string
	Description        string
	Priority           string
	Input              map[string]any
	EstimatedDurationS *int
}

// CreateTask queues a new pending task for an active agent. Agents that
// are inactive or in error refuse new work.
func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error) {
	if in.TaskType == "" {
		return domain.Task{}, domain.ValidationError{Field: "task_type", Reason: "must not be empty"}
	}
	priority := in.Priority
	if priority == "" {
		priority = "medium"
	}
	switch priority {
	case "low", "medium", "high", "urgent":
	default:
		return domain.Task{}, domain.ValidationError{Field: "priority", Reason: "must be low, medium, high or urgent"}
	}
	agent, err := e.Repo.GetAgent(ctx, in.AgentID)
	if err != nil {
		return domain.Task{}, err
	}
	if agent.Status == domain.AgentInactive {
		return domain.Task{}, domain.ValidationError{Field: "agent_id", Reason: "agent is inactive"}
	}
	t := domain.Task{
		ID:                 uuid.NewString(),
		AgentID:            agent.ID,
		TaskType:           in.TaskType,
		Description:        in.Description,
		Priority:           priority,
		Status:             domain.TaskPending,
		Input:              in.Input,
		EstimatedDurationS: in.EstimatedDurationS,
		CreatedAt:          e.now(),
	}
	if err := e.Repo.InsertTask(ctx, nil, t); err != nil {
		return domain.Task{}, err
	}
	xlog.Info("task created", "task_id", t.ID, "agent_id", t.AgentID, "type", t.TaskType)
	return t, nil
}

func (e *Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e *Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// StartTask moves a pending task to running and marks its agent busy.
func (e *Engine) StartTask(ctx context.Context, id string) (domain.Task, error) {
	return e.transition(ctx, id, domain.TaskRunning, nil, nil)
}

// CompleteTask moves a running task to completed with its output.
func (e *Engine) CompleteTask(ctx context.Context, id string, output map[string]any) (domain.Task, error) {
	return e.transition(ctx, id, domain.TaskCompleted, output, nil)
}

// FailTask moves a running task to failed, recording the error message.
func (e *Engine) FailTask(ctx context.Context, id, message string) (domain.Task, error) {
	return e.transition(ctx, id, domain.TaskFailed, nil, &message)
}

// CancelTask aborts a pending or running task.
func (e *Engine) CancelTask(ctx context.Context, id string) (domain.Task, error) {
	return e.transition(ctx, id, domain.TaskCancelled, nil, nil)
}

func allowedTransition(from, to string) bool {
	switch to {
	case domain.TaskRunning:
		return from == domain.TaskPending
	case domain.TaskCompleted, domain.TaskFailed:
		return from == domain.TaskRunning
	case domain.TaskCancelled:
		return from == domain.TaskPending || from == domain.TaskRunning
	}
	return false
}

// transition applies a lifecycle move and the matching agent
// bookkeeping atomically. The task row and its agent's counters commit
// together or not at all.
func (e *Engine) transition(ctx context.Context, id, to string, output map[string]any, errMsg *string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !allowedTransition(t.Status, to) {
		return domain.Task{}, TransitionError{From: t.Status, To: to}
	}
	agent, err := e.Repo.GetAgent(ctx, t.AgentID)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.now()
	taskUpd := repo.TaskUpdate{Status: &to}
	agentUpd := repo.AgentUpdate{LastActivityAt: &now}
	wasRunning := t.Status == domain.TaskRunning

	switch to {
	case domain.TaskRunning:
		taskUpd.StartedAt = &now
		agentUpd.ActiveTasksDelta = 1
		agentUpd.CurrentTask = &t.ID
	case domain.TaskCompleted:
		full := 1.0
		taskUpd.Progress = &full
		taskUpd.CompletedAt = &now
		taskUpd.Output = output
		agentUpd.ActiveTasksDelta = -1
		agentUpd.CompletedDelta = 1
		rate := successRate(agent.TotalTasksCompleted+1, agent.ErrorCount)
		agentUpd.SuccessRate = &rate
	case domain.TaskFailed:
		taskUpd.CompletedAt = &now
		taskUpd.ErrorMessage = errMsg
		agentUpd.ActiveTasksDelta = -1
		agentUpd.ErrorDelta = 1
		rate := successRate(agent.TotalTasksCompleted, agent.ErrorCount+1)
		agentUpd.SuccessRate = &rate
	case domain.TaskCancelled:
		taskUpd.CompletedAt = &now
		if wasRunning {
			agentUpd.ActiveTasksDelta = -1
		}
	}
	if to != domain.TaskRunning && wasRunning && agent.CurrentTask != nil && *agent.CurrentTask == t.ID {
		agentUpd.ClearCurrentTask = true
	}

	tx, err := e.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, id, taskUpd); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateAgent(ctx, tx, agent.ID, agentUpd, now); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	xlog.Info("task transition", "task_id", id, "from", t.Status, "to", to)
	return e.Repo.GetTask(ctx, id)
}

func successRate(completed, failed int) float64 {
	total := completed + failed
	if total == 0 {
		return 1
	}
	return float64(completed) / float64(total)
}

type CreateProjectInput struct {
	Name           string
	Description    string
	OwnerID        string
	AssignedAgents []string
}

// CreateProject stores a new active project after checking the owner
// and every assigned agent exist.
func (e *Engine) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	if in.Name == "" {
		return domain.Project{}, domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if _, err := e.Repo.GetUser(ctx, in.OwnerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, domain.ValidationError{Field: "owner_id", Reason: "unknown user"}
		}
		return domain.Project{}, err
	}
	for _, agentID := range in.AssignedAgents {
		if _, err := e.Repo.GetAgent(ctx, agentID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Project{}, domain.ValidationError{Field: "assigned_agents", Reason: "unknown agent " + agentID}
			}
			return domain.Project{}, err
		}
	}
	agents := in.AssignedAgents
	if agents == nil {
		agents = []string{}
	}
	now := e.now()
	p := domain.Project{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Description:    in.Description,
		Status:         domain.ProjectActive,
		OwnerID:        in.OwnerID,
		AssignedAgents: agents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	xlog.Info("project created", "project_id", p.ID, "name", p.Name, "owner_id", p.OwnerID)
	return p, nil
}

func (e *Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e *Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, f)
}

type UpdateProjectInput struct {
	Name           *string
	Description    *string
	Status         *string
	Progress       *float64
	AssignedAgents []string
}

func (e *Engine) UpdateProject(ctx context.Context, id string, in UpdateProjectInput) (domain.Project, error) {
	if in.Status != nil {
		switch *in.Status {
		case domain.ProjectActive, domain.ProjectPaused, domain.ProjectArchived:
		default:
			return domain.Project{}, domain.ValidationError{Field: "status", Reason: "must be active, paused or archived"}
		}
	}
	if in.Progress != nil && (*in.Progress < 0 || *in.Progress > 1) {
		return domain.Project{}, domain.ValidationError{Field: "progress", Reason: "must be between 0 and 1"}
	}
	for _, agentID := range in.AssignedAgents {
		if _, err := e.Repo.GetAgent(ctx, agentID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Project{}, domain.ValidationError{Field: "assigned_agents", Reason: "unknown agent " + agentID}
			}
			return domain.Project{}, err
		}
	}
	upd := repo.ProjectUpdate{
		Name:           in.Name,
		Description:    in.Description,
		Status:         in.Status,
		Progress:       in.Progress,
		AssignedAgents: in.AssignedAgents,
	}
	if err := e.Repo.UpdateProject(ctx, id, upd, e.now()); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, id)
}

type RecordMetricInput struct {
	MetricName  string
	MetricValue float64
	MetricData  map[string]any
	Category    string
	Tags        []string
}

func (e *Engine) RecordMetric(ctx context.Context, in RecordMetricInput) (domain.AnalyticsSample, error) {
	if in.MetricName == "" {
		return domain.AnalyticsSample{}, domain.ValidationError{Field: "metric_name", Reason: "must not be empty"}
	}
	s := domain.AnalyticsSample{
		ID:          uuid.NewString(),
		MetricName:  in.MetricName,
		MetricValue: in.MetricValue,
		MetricData:  in.MetricData,
		Category:    in.Category,
		Tags:        in.Tags,
		RecordedAt:  e.now(),
	}
	if err := e.Repo.InsertSample(ctx, nil, s); err != nil {
		return domain.AnalyticsSample{}, err
	}
	return s, nil
}

func (e *Engine) QueryMetrics(ctx context.Context, f repo.SampleFilters) ([]domain.AnalyticsSample, error) {
	return e.Repo.ListSamples(ctx, f)
}
