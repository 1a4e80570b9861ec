package repo

import (
	"context"
	"database/sql"
	"strings"

	"agenthub/internal/domain"
)

const analyticsColumns = `id,metric_name,metric_value,metric_data_json,category,tags_json,recorded_at`

// maxAnalyticsPage bounds how many samples a single query returns.
const maxAnalyticsPage = 100

func scanSample(scan func(...any) error) (domain.AnalyticsSample, error) {
	var s domain.AnalyticsSample
	var data, category, tags sql.NullString
	err := scan(&s.ID, &s.MetricName, &s.MetricValue, &data, &category, &tags, &s.RecordedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, mapErr(err)
	}
	if category.Valid {
		s.Category = category.String
	}
	s.MetricData = decodeMap(data)
	s.Tags = decodeStrings(tags)
	return s, nil
}

func (r Repo) InsertSample(ctx context.Context, tx *sql.Tx, s domain.AnalyticsSample) error {
	data, err := marshalJSON(s.MetricData)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(s.Tags)
	if err != nil {
		return err
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO analytics(`+analyticsColumns+`) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.MetricName, s.MetricValue, data, nullable(s.Category), tags, s.RecordedAt)
	return mapErr(err)
}

type SampleFilters struct {
	MetricName string
	Category   string
	Limit      int
}

// ListSamples returns analytics samples newest first, capped at
// maxAnalyticsPage rows.
func (r Repo) ListSamples(ctx context.Context, f SampleFilters) ([]domain.AnalyticsSample, error) {
	var clauses []string
	var args []any
	if f.MetricName != "" {
		clauses = append(clauses, "metric_name=?")
		args = append(args, f.MetricName)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > maxAnalyticsPage {
		limit = maxAnalyticsPage
	}
	args = append(args, limit)
	query := `SELECT ` + analyticsColumns + ` FROM analytics ` + where + ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	var res []domain.AnalyticsSample
	err := retryRead(ctx, func() error {
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		res = nil
		for rows.Next() {
			s, err := scanSample(rows.Scan)
			if err != nil {
				return err
			}
			res = append(res, s)
		}
		return rows.Err()
	})
	return res, err
}
