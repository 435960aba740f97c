package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"ancla-aem/config"
	"ancla-aem/core/utils"
)

// NewDB opens the configured database. Postgres (pgx) is the production
// driver; sqlite backs the test runtime and single-host installs.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver == "" {
		driver = "postgres"
	}
	if cfg.DBPath != "" {
		driver = "sqlite"
	}
	switch driver {
	case "postgres", "pgx":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if logger != nil {
			logger.Printf("database: postgres")
		}
		return db, nil
	case "sqlite":
		dsn := cfg.DBPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// modernc sqlite serializes writes; a single connection avoids
		// SQLITE_BUSY churn under concurrent transactions.
		db.SetMaxOpenConns(1)
		if logger != nil {
			logger.Printf("database: sqlite at %s", cfg.DBPath)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}
