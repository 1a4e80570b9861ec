package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agenthub/internal/domain"
)

const taskColumns = `id,agent_id,task_type,description,priority,status,input_json,output_json,error_message,progress,estimated_duration_s,created_at,started_at,completed_at`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var desc, input, output, errMsg, started, completed sql.NullString
	var estimated sql.NullInt64
	err := scan(&t.ID, &t.AgentID, &t.TaskType, &desc, &t.Priority, &t.Status,
		&input, &output, &errMsg, &t.Progress, &estimated, &t.CreatedAt, &started, &completed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, mapErr(err)
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if errMsg.Valid {
		t.ErrorMessage = &errMsg.String
	}
	if started.Valid {
		t.StartedAt = &started.String
	}
	if completed.Valid {
		t.CompletedAt = &completed.String
	}
	if estimated.Valid {
		v := int(estimated.Int64)
		t.EstimatedDurationS = &v
	}
	t.Input = decodeMap(input)
	t.Output = decodeMap(output)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	input, err := marshalJSON(t.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(t.Output)
	if err != nil {
		return err
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.AgentID, t.TaskType, nullable(t.Description), t.Priority, t.Status,
		input, output, nullableStringPtr(t.ErrorMessage), t.Progress,
		nullableIntPtr(t.EstimatedDurationS), t.CreatedAt,
		nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt))
	return mapErr(err)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	err := retryRead(ctx, func() error {
		var scanErr error
		t, scanErr = scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
		return scanErr
	})
	return t, err
}

type TaskFilters struct {
	AgentID string
	Status  string
	Limit   int
}

// ListTasks returns tasks newest first.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	var res []domain.Task
	err := retryRead(ctx, func() error {
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		res = nil
		for rows.Next() {
			t, err := scanTask(rows.Scan)
			if err != nil {
				return err
			}
			res = append(res, t)
		}
		return rows.Err()
	})
	return res, err
}

// TaskUpdate carries the allow-listed mutable task fields.
type TaskUpdate struct {
	Status       *string
	Progress     *float64
	Output       map[string]any
	ErrorMessage *string
	StartedAt    *string
	CompletedAt  *string
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, id string, upd TaskUpdate) error {
	var (
		fields []string
		args   []any
	)
	if upd.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *upd.Status)
	}
	if upd.Progress != nil {
		fields = append(fields, "progress=?")
		args = append(args, *upd.Progress)
	}
	if upd.Output != nil {
		output, err := marshalJSON(upd.Output)
		if err != nil {
			return err
		}
		fields = append(fields, "output_json=?")
		args = append(args, output)
	}
	if upd.ErrorMessage != nil {
		fields = append(fields, "error_message=?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.StartedAt != nil {
		fields = append(fields, "started_at=?")
		args = append(args, *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *upd.CompletedAt)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ","))
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
