package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"ancla-aem/core/utils"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id INTEGER NOT NULL,
		role_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, role_id),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(role_id) REFERENCES roles(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		roles TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS attendance_statuses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS attendance_ledger (
		employee_id INTEGER NOT NULL,
		work_date TEXT NOT NULL,
		clock_in TEXT NOT NULL DEFAULT '',
		clock_out TEXT NOT NULL DEFAULT '',
		clock_status_code TEXT NOT NULL DEFAULT '',
		manual_status_code TEXT NOT NULL DEFAULT '',
		active_incident_id INTEGER,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (employee_id, work_date)
	);`,
	`CREATE TABLE IF NOT EXISTS authorization_policies (
		criticality_level INTEGER NOT NULL,
		role_id INTEGER NOT NULL,
		PRIMARY KEY (criticality_level, role_id),
		FOREIGN KEY(role_id) REFERENCES roles(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id INTEGER NOT NULL,
		work_date TEXT NOT NULL,
		incident_type TEXT NOT NULL DEFAULT '',
		criticality INTEGER NOT NULL DEFAULT 1,
		state TEXT NOT NULL DEFAULT 'new',
		assignee_user_id INTEGER,
		requires_authorization INTEGER NOT NULL DEFAULT 0,
		proposed_status_code TEXT NOT NULL DEFAULT '',
		closed_at TIMESTAMP,
		resolved_by INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE TABLE IF NOT EXISTS authorization_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER NOT NULL,
		role_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		responded_by INTEGER,
		responded_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(incident_id) REFERENCES incidents(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS incident_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER NOT NULL,
		actor_user_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		result_state TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(incident_id) REFERENCES incidents(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_state ON incidents(state);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_employee_date ON incidents(employee_id, work_date);`,
	`CREATE INDEX IF NOT EXISTS idx_authorization_requests_incident ON authorization_requests(incident_id);`,
	`CREATE INDEX IF NOT EXISTS idx_incident_audit_incident ON incident_audit(incident_id);`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_incident ON attendance_ledger(active_incident_id);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);`,
}

// ApplyMigrations runs goose migrations on postgres and the inline DDL
// list on sqlite (test runtime and single-host installs).
func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	isPG, err := isPostgresDB(ctx, db)
	if err != nil {
		return err
	}
	if isPG {
		return applyGooseMigrations(ctx, db, logger)
	}
	return applySQLiteMigrations(ctx, db, logger)
}

func isPostgresDB(ctx context.Context, db *sql.DB) (bool, error) {
	var version string
	if err := db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&version); err == nil {
		return false, nil
	}
	if err := db.PingContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func applyGooseMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	goose.SetBaseFS(embeddedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("applying postgres migrations")
	}
	return goose.UpContext(ctx, db, "migrations")
}

func applySQLiteMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if logger != nil {
		logger.Printf("applying sqlite migrations")
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	return ensureStatusCatalog(ctx, db)
}

// DefaultStatusCodes is the seeded attendance status catalog. Codes are
// what supervisors record; the resolve path validates against them.
var DefaultStatusCodes = map[string]string{
	"A":  "Asistencia",
	"F":  "Falta",
	"R":  "Retardo",
	"J":  "Falta justificada",
	"V":  "Vacaciones",
	"I":  "Incapacidad",
	"PG": "Permiso con goce",
	"PS": "Permiso sin goce",
}

func ensureStatusCatalog(ctx context.Context, db *sql.DB) error {
	for code, name := range DefaultStatusCodes {
		if _, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO attendance_statuses(code, name) VALUES(?,?)`, code, name); err != nil {
			return fmt.Errorf("seed status %s: %w", code, err)
		}
	}
	return nil
}
