// Package server exposes the orchestration API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/mudler/xlog"

	"agenthub/internal/credentials"
	"agenthub/internal/domain"
	"agenthub/internal/engine"
	"agenthub/internal/repo"
	"agenthub/internal/ws"
)

const serviceName = "AgentHub"

// Config for the HTTP API handler.
type Config struct {
	Engine      *engine.Engine
	Credentials *credentials.Service
	Signer      *credentials.Signer
	Hub         *ws.Hub
	CORSOrigins []string
	Version     string
}

// apiError models the failure envelope. Code repeats the HTTP status
// in the body.
type apiError struct {
	status  int
	Success bool   `json:"success"`
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Success: false, Message: message, Code: status}
}

// New returns an HTTP handler exposing the AgentHub API.
func New(cfg Config) (http.Handler, error) {
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(newCORSMiddleware(cfg.CORSOrigins))
	router.Use(newAuthMiddleware(cfg.Signer))

	hcfg := huma.DefaultConfig(serviceName+" API", cfg.Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)

	registerBanner(api, cfg.Version)
	registerHealth(api, cfg.Engine)
	registerAuth(api, cfg.Credentials, cfg.Engine)
	registerAgents(api, cfg.Engine, cfg.Hub)
	registerTasks(api, cfg.Engine)
	registerProjects(api, cfg.Engine)
	registerAnalytics(api, cfg.Engine)
	registerDashboard(api, cfg.Engine, cfg.Hub)
	registerAdmin(api, cfg.Engine)

	router.Handle("/ws", cfg.Hub)
	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, err.Error())
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, err.Error())
	}
	var fe credentials.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, err.Error())
	}
	switch {
	case errors.Is(err, credentials.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "Not found")
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "Already exists")
	case errors.Is(err, repo.ErrIntegrity):
		return newAPIError(http.StatusUnprocessableEntity, "Reference to unknown entity")
	case errors.Is(err, repo.ErrUnavailable):
		return newAPIError(http.StatusInternalServerError, "Storage temporarily unavailable")
	}
	xlog.Error("internal error", "error", err.Error())
	return newAPIError(http.StatusInternalServerError, "Internal server error")
}

func registerBanner(api huma.API, version string) {
	huma.Register(api, huma.Operation{
		OperationID: "banner",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Service identity",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BannerResponse `json:"body"`
	}, error) {
		return &struct {
			Body BannerResponse `json:"body"`
		}{Body: BannerResponse{
			Success: true,
			Service: serviceName,
			Version: version,
			Message: "Agent orchestration service",
		}}, nil
	})
}

func registerHealth(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{
			Status:    "healthy",
			Timestamp: e.Now().UTC().Format(time.RFC3339),
		}}, nil
	})
}

func registerAuth(api huma.API, svc *credentials.Service, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "register",
		Method:      http.MethodPost,
		Path:        "/api/auth/register",
		Summary:     "Register a new user",
		Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body AuthResponse `json:"body"`
	}, error) {
		u, err := svc.Register(ctx, credentials.RegisterInput{
			Username: input.Body.Username,
			Email:    input.Body.Email,
			Password: input.Body.Password,
			Role:     input.Body.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		token, err := svc.Signer.Issue(credentials.Claims{
			Subject:  u.ID,
			Username: u.Username,
			Email:    u.Email,
			Role:     u.Role,
			Tier:     u.Tier,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuthResponse `json:"body"`
		}{Body: AuthResponse{Success: true, User: u, Token: token}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/api/auth/login",
		Summary:     "Authenticate and obtain a token",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body AuthResponse `json:"body"`
	}, error) {
		u, token, err := svc.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuthResponse `json:"body"`
		}{Body: AuthResponse{Success: true, User: u, Token: token}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/api/auth/me",
		Summary:     "Current user profile",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		claims, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusUnauthorized, "Authentication required")
			}
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: UserResponse{Success: true, User: u}}, nil
	})
}

func registerAgents(api huma.API, e *engine.Engine, hub *ws.Hub) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/api/agents",
		Summary:     "List agents by performance",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"inactive,active,error" required:"false"`
	}) (*struct {
		Body AgentsResponse `json:"body"`
	}, error) {
		agents, err := e.ListAgents(ctx, repo.AgentFilters{Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		if agents == nil {
			agents = []domain.Agent{}
		}
		return &struct {
			Body AgentsResponse `json:"body"`
		}{Body: AgentsResponse{Success: true, Agents: agents}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/api/agents/{id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		a, err := e.GetAgent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: AgentResponse{Success: true, Agent: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-agent",
		Method:      http.MethodPost,
		Path:        "/api/agents",
		Summary:     "Register a new agent",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAgent(ctx, engine.CreateAgentInput{
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			AgentType:     input.Body.AgentType,
			Version:       input.Body.Version,
			Capabilities:  input.Body.Capabilities,
			Configuration: input.Body.Configuration,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: AgentResponse{Success: true, Agent: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-agent-status",
		Method:      http.MethodPost,
		Path:        "/api/agents/{id}/status",
		Summary:     "Set agent status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body SetAgentStatusRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.SetAgentStatus(ctx, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if agents, lerr := e.ListAgents(ctx, repo.AgentFilters{}); lerr == nil {
			hub.Broadcast(ws.AgentStatusFrame(agents, a.UpdatedAt))
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: AgentResponse{Success: true, Agent: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-agent-task",
		Method:      http.MethodPost,
		Path:        "/api/agents/{id}/tasks",
		Summary:     "Queue a task for an agent",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, authErr := requireUser(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.CreateTaskInput{
			AgentID:            input.ID,
			TaskType:           input.Body.TaskType,
			Description:        input.Body.Description,
			Priority:           input.Body.Priority,
			Input:              input.Body.Input,
			EstimatedDurationS: input.Body.EstimatedDurationS,
		})
		if err != nil {
			return nil, handleError(err)
		}
		// The row is committed; subscribers may now learn about it.
		hub.Broadcast(ws.TaskCreatedFrame(t))
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Success: true, TaskID: t.ID, Task: t}}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/api/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Success: true, TaskID: t.ID, Task: t}}, nil
	})

	type taskPath struct {
		ID string `path:"id"`
	}
	taskOut := func(t domain.Task) *struct {
		Body TaskResponse `json:"body"`
	} {
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Success: true, TaskID: t.ID, Task: t}}
	}

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/api/tasks/{id}/start",
		Summary:     "Start a pending task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, authErr := requireUser(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.StartTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOut(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/api/tasks/{id}/complete",
		Summary:     "Complete a running task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, authErr := requireUser(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, input.ID, input.Body.Output)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOut(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-task",
		Method:      http.MethodPost,
		Path:        "/api/tasks/{id}/fail",
		Summary:     "Fail a running task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FailTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, authErr := requireUser(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.FailTask(ctx, input.ID, input.Body.ErrorMessage)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOut(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/api/tasks/{id}/cancel",
		Summary:     "Cancel a task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, authErr := requireUser(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.CancelTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOut(t), nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/api/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProjectsResponse `json:"body"`
	}, error) {
		projects, err := e.ListProjects(ctx, repo.ProjectFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		if projects == nil {
			projects = []domain.Project{}
		}
		return &struct {
			Body ProjectsResponse `json:"body"`
		}{Body: ProjectsResponse{Success: true, Projects: projects}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-project",
		Method:      http.MethodPost,
		Path:        "/api/projects",
		Summary:     "Create project",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		claims, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.CreateProjectInput{
			Name:           input.Body.Name,
			Description:    input.Body.Description,
			OwnerID:        claims.Subject,
			AssignedAgents: input.Body.AssignedAgents,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: ProjectResponse{Success: true, Project: p}}, nil
	})
}

func registerAnalytics(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-analytics",
		Method:      http.MethodGet,
		Path:        "/api/analytics",
		Summary:     "Recent analytics samples",
	}, func(ctx context.Context, input *struct {
		Category string `query:"category" required:"false"`
		Limit    int    `query:"limit" required:"false"`
	}) (*struct {
		Body AnalyticsResponse `json:"body"`
	}, error) {
		samples, err := e.QueryMetrics(ctx, repo.SampleFilters{Category: input.Category, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		if samples == nil {
			samples = []domain.AnalyticsSample{}
		}
		return &struct {
			Body AnalyticsResponse `json:"body"`
		}{Body: AnalyticsResponse{Success: true, Metrics: samples}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-metric",
		Method:      http.MethodGet,
		Path:        "/api/analytics/{metric_name}",
		Summary:     "Latest sample for one metric",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MetricName string `path:"metric_name"`
	}) (*struct {
		Body MetricResponse `json:"body"`
	}, error) {
		samples, err := e.QueryMetrics(ctx, repo.SampleFilters{MetricName: input.MetricName, Limit: 1})
		if err != nil {
			return nil, handleError(err)
		}
		if len(samples) == 0 {
			return nil, newAPIError(http.StatusNotFound, "Not found")
		}
		return &struct {
			Body MetricResponse `json:"body"`
		}{Body: MetricResponse{Success: true, Metric: samples[0]}}, nil
	})
}

func registerDashboard(api huma.API, e *engine.Engine, hub *ws.Hub) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/api/dashboard",
		Summary:     "Aggregated dashboard",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		if _, authErr := requireUser(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.BuildDashboard(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		d.ConnectedClients = hub.ClientCount()
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: DashboardResponse{Success: true, Dashboard: d}}, nil
	})
}

func registerAdmin(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-list-users",
		Method:      http.MethodGet,
		Path:        "/api/admin/users",
		Summary:     "List all users",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UsersResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		users, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if users == nil {
			users = []domain.User{}
		}
		return &struct {
			Body UsersResponse `json:"body"`
		}{Body: UsersResponse{Success: true, Users: users}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-deactivate-user",
		Method:      http.MethodPost,
		Path:        "/api/admin/users/{id}/deactivate",
		Summary:     "Deactivate a user",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeactivateUser(ctx, input.ID, e.Now().UTC().Format(time.RFC3339)); err != nil {
			return nil, handleError(err)
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: UserResponse{Success: true, User: u}}, nil
	})
}
