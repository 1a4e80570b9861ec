package migrate

import (
	"testing"

	"agenthub/internal/db"
)

func TestMigrateIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{URL: t.TempDir() + "/test.db"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if err := Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var version, rows int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("schema version = %d", version)
	}
	if err := conn.QueryRow(`SELECT count(*) FROM schema_version`).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("schema_version rows = %d, want 1", rows)
	}
}
