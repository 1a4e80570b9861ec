package engine

import (
	"context"
	"time"

	"agenthub/internal/domain"
	"agenthub/internal/repo"
)

// Dashboard is the aggregated overview served to the UI.
type Dashboard struct {
	ActiveAgents       int                      `json:"active_agents"`
	TotalAgents        int                      `json:"total_agents"`
	TotalProjects      int                      `json:"total_projects"`
	AveragePerformance float64                  `json:"average_performance"`
	Uptime             string                   `json:"uptime"`
	ConnectedClients   int                      `json:"connected_clients"`
	TopAgents          []domain.Agent           `json:"top_agents"`
	RecentProjects     []domain.Project         `json:"recent_projects"`
	RecentMetrics      []domain.AnalyticsSample `json:"recent_metrics"`
}

const (
	dashboardTopAgents      = 4
	dashboardRecentProjects = 5
	dashboardRecentMetrics  = 3
)

// BuildDashboard assembles the overview from live storage. Averages
// over an empty agent table come back as zero, not an error.
func (e *Engine) BuildDashboard(ctx context.Context) (Dashboard, error) {
	byStatus, err := e.Repo.CountAgentsByStatus(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	avg, err := e.Repo.AveragePerformance(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	projects, err := e.Repo.CountProjects(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	top, err := e.Repo.ListAgents(ctx, repo.AgentFilters{Limit: dashboardTopAgents})
	if err != nil {
		return Dashboard{}, err
	}
	recent, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{Limit: dashboardRecentProjects})
	if err != nil {
		return Dashboard{}, err
	}
	metrics, err := e.Repo.ListSamples(ctx, repo.SampleFilters{Limit: dashboardRecentMetrics})
	if err != nil {
		return Dashboard{}, err
	}
	if top == nil {
		top = []domain.Agent{}
	}
	if recent == nil {
		recent = []domain.Project{}
	}
	if metrics == nil {
		metrics = []domain.AnalyticsSample{}
	}
	uptime := e.Uptime().Round(time.Second)
	return Dashboard{
		ActiveAgents:       byStatus[domain.AgentActive],
		TotalAgents:        total,
		TotalProjects:      projects,
		AveragePerformance: avg,
		Uptime:             uptime.String(),
		TopAgents:          top,
		RecentProjects:     recent,
		RecentMetrics:      metrics,
	}, nil
}
