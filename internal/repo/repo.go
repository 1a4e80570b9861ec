package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrIntegrity indicates a foreign key violation.
	ErrIntegrity = errors.New("integrity violation")
	// ErrUnavailable indicates a transient store failure worth retrying for reads.
	ErrUnavailable = errors.New("store unavailable")
)

const readRetries = 3

// mapErr translates driver-level constraint failures into the typed errors
// callers branch on.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return ErrConflict
	case strings.Contains(msg, "foreign key constraint"):
		return ErrIntegrity
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "busy"):
		return ErrUnavailable
	}
	return err
}

// retryRead runs fn, retrying a small bounded number of times on transient
// failures. Only idempotent reads go through this path; writes fail fast.
func retryRead(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < readRetries; i++ {
		err = fn()
		if !errors.Is(mapErr(err), ErrUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// marshalJSON encodes an opaque map or slice for a JSON text column; empty
// values store NULL.
func marshalJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeMap(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

func decodeStrings(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var s []string
	if err := json.Unmarshal([]byte(raw.String), &s); err != nil {
		return nil
	}
	return s
}
