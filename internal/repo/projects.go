package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agenthub/internal/domain"
)

const projectColumns = `id,name,description,status,owner_id,progress,created_at,updated_at`

func scanProject(scan func(...any) error) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := scan(&p.ID, &p.Name, &desc, &p.Status, &p.OwnerID, &p.Progress, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, mapErr(err)
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.Status, p.OwnerID, p.Progress, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	for _, agentID := range p.AssignedAgents {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_agents(project_id, agent_id) VALUES (?,?)`, p.ID, agentID); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit())
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := retryRead(ctx, func() error {
		var scanErr error
		p, scanErr = scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id).Scan)
		if scanErr != nil {
			return scanErr
		}
		p.AssignedAgents, scanErr = r.projectAgents(ctx, p.ID)
		return scanErr
	})
	return p, err
}

func (r Repo) projectAgents(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT agent_id FROM project_agents WHERE project_id=? ORDER BY agent_id`, projectID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type ProjectFilters struct {
	Status  string
	OwnerID string
	Limit   int
}

// ListProjects returns projects newest first.
func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	var res []domain.Project
	err := retryRead(ctx, func() error {
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		res = nil
		for rows.Next() {
			p, err := scanProject(rows.Scan)
			if err != nil {
				return err
			}
			res = append(res, p)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range res {
			res[i].AssignedAgents, err = r.projectAgents(ctx, res[i].ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return res, err
}

// ProjectUpdate carries the allow-listed mutable project fields.
type ProjectUpdate struct {
	Name           *string
	Description    *string
	Status         *string
	Progress       *float64
	AssignedAgents []string
}

func (r Repo) UpdateProject(ctx context.Context, id string, upd ProjectUpdate, now string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback()

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
	if upd.Progress != nil {
		fields = append(fields, "progress=?")
		args = append(args, *upd.Progress)
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	query := fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ","))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if upd.AssignedAgents != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_agents WHERE project_id=?`, id); err != nil {
			return mapErr(err)
		}
		for _, agentID := range upd.AssignedAgents {
			if _, err := tx.ExecContext(ctx, `INSERT INTO project_agents(project_id, agent_id) VALUES (?,?)`, id, agentID); err != nil {
				return mapErr(err)
			}
		}
	}
	return mapErr(tx.Commit())
}

func (r Repo) CountProjects(ctx context.Context) (int, error) {
	var n int
	err := retryRead(ctx, func() error {
		return r.DB.QueryRowContext(ctx, `SELECT count(*) FROM projects`).Scan(&n)
	})
	return n, mapErr(err)
}
