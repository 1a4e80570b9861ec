package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agenthub/internal/domain"
)

const agentColumns = `id,name,description,agent_type,status,version,capabilities_json,performance_score,current_task,configuration_json,health_score,last_activity_at,active_tasks,total_tasks_completed,error_count,success_rate,created_at,updated_at`

func scanAgent(scan func(...any) error) (domain.Agent, error) {
	var a domain.Agent
	var desc, caps, current, config sql.NullString
	err := scan(&a.ID, &a.Name, &desc, &a.AgentType, &a.Status, &a.Version, &caps,
		&a.PerformanceScore, &current, &config, &a.HealthScore, &a.LastActivityAt,
		&a.ActiveTasks, &a.TotalTasksCompleted, &a.ErrorCount, &a.SuccessRate,
		&a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, mapErr(err)
	}
	if desc.Valid {
		a.Description = desc.String
	}
	if current.Valid {
		a.CurrentTask = &current.String
	}
	a.Capabilities = decodeStrings(caps)
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}
	a.Configuration = decodeMap(config)
	return a, nil
}

func (r Repo) InsertAgent(ctx context.Context, a domain.Agent) error {
	caps, err := marshalJSON(a.Capabilities)
	if err != nil {
		return err
	}
	config, err := marshalJSON(a.Configuration)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO agents(`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, nullable(a.Description), a.AgentType, a.Status, a.Version, caps,
		a.PerformanceScore, nullableStringPtr(a.CurrentTask), config, a.HealthScore,
		a.LastActivityAt, a.ActiveTasks, a.TotalTasksCompleted, a.ErrorCount,
		a.SuccessRate, a.CreatedAt, a.UpdatedAt)
	return mapErr(err)
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var a domain.Agent
	err := retryRead(ctx, func() error {
		var scanErr error
		a, scanErr = scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id).Scan)
		return scanErr
	})
	return a, err
}

type AgentFilters struct {
	Status string
	Limit  int
}

// ListAgents returns agents sorted by performance score, best first.
func (r Repo) ListAgents(ctx context.Context, f AgentFilters) ([]domain.Agent, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + agentColumns + ` FROM agents ` + where + ` ORDER BY performance_score DESC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	var res []domain.Agent
	err := retryRead(ctx, func() error {
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		res = nil
		for rows.Next() {
			a, err := scanAgent(rows.Scan)
			if err != nil {
				return err
			}
			res = append(res, a)
		}
		return rows.Err()
	})
	return res, err
}

// AgentUpdate carries the allow-listed mutable agent fields.
type AgentUpdate struct {
	Name             *string
	Description      *string
	Status           *string
	PerformanceScore *float64
	HealthScore      *float64
	CurrentTask      *string
	ClearCurrentTask bool
	Configuration    map[string]any
	ActiveTasksDelta int
	CompletedDelta   int
	ErrorDelta       int
	SuccessRate      *float64
	LastActivityAt   *string
}

func (r Repo) UpdateAgent(ctx context.Context, tx *sql.Tx, id string, upd AgentUpdate, now string) error {
	var (
		fields []string
		args   []any
	)
	if upd.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*upd.Description))
	}
	if upd.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *upd.Status)
	}
	if upd.PerformanceScore != nil {
		fields = append(fields, "performance_score=?")
		args = append(args, *upd.PerformanceScore)
	}
	if upd.HealthScore != nil {
		fields = append(fields, "health_score=?")
		args = append(args, *upd.HealthScore)
	}
	if upd.ClearCurrentTask {
		fields = append(fields, "current_task=NULL")
	} else if upd.CurrentTask != nil {
		fields = append(fields, "current_task=?")
		args = append(args, *upd.CurrentTask)
	}
	if upd.Configuration != nil {
		config, err := marshalJSON(upd.Configuration)
		if err != nil {
			return err
		}
		fields = append(fields, "configuration_json=?")
		args = append(args, config)
	}
	if upd.ActiveTasksDelta != 0 {
		fields = append(fields, "active_tasks=MAX(0, active_tasks+?)")
		args = append(args, upd.ActiveTasksDelta)
	}
	if upd.CompletedDelta != 0 {
		fields = append(fields, "total_tasks_completed=total_tasks_completed+?")
		args = append(args, upd.CompletedDelta)
	}
	if upd.ErrorDelta != 0 {
		fields = append(fields, "error_count=error_count+?")
		args = append(args, upd.ErrorDelta)
	}
	if upd.SuccessRate != nil {
		fields = append(fields, "success_rate=?")
		args = append(args, *upd.SuccessRate)
	}
	if upd.LastActivityAt != nil {
		fields = append(fields, "last_activity_at=?")
		args = append(args, *upd.LastActivityAt)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	query := fmt.Sprintf(`UPDATE agents SET %s WHERE id=?`, strings.Join(fields, ","))
	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = r.DB.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAgentsByStatus returns the number of agents per status.
func (r Repo) CountAgentsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM agents GROUP BY status`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// AveragePerformance returns the mean performance score over all agents,
// zero when no agents exist.
func (r Repo) AveragePerformance(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := retryRead(ctx, func() error {
		return r.DB.QueryRowContext(ctx, `SELECT AVG(performance_score) FROM agents`).Scan(&avg)
	})
	if err != nil {
		return 0, mapErr(err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}
