package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultDBName = "agenthub.db"

type Config struct {
	// URL is either a path to the sqlite file or a file: DSN.
	// Empty means ./agenthub.db.
	URL string
}

func dsn(url string) string {
	if url == "" {
		url = defaultDBName
	}
	if strings.HasPrefix(url, "file:") {
		// Foreign keys stay on even for caller-supplied DSNs.
		if strings.Contains(url, "_pragma=foreign_keys") {
			return url
		}
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		return url + sep + "_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", url)
}

// Open opens the SQLite database with foreign keys on, creating parent
// directories as needed.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.URL != "" && !strings.HasPrefix(cfg.URL, "file:") {
		if dir := filepath.Dir(cfg.URL); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	conn, err := sql.Open("sqlite", dsn(cfg.URL))
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY churn under the cooperative model.
	conn.SetMaxOpenConns(1)
	return conn, nil
}
