package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// LedgerRecord is one employee-day in the attendance ledger. While an
// incident concerning the day is open, ActiveIncidentID locks the row.
type LedgerRecord struct {
	EmployeeID       int64      `json:"employee_id"`
	WorkDate         string     `json:"work_date"`
	ClockIn          string     `json:"clock_in,omitempty"`
	ClockOut         string     `json:"clock_out,omitempty"`
	ClockStatusCode  string     `json:"clock_status_code,omitempty"`
	ManualStatusCode string     `json:"manual_status_code,omitempty"`
	ActiveIncidentID *int64     `json:"active_incident_id,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type LedgerStore interface {
	Upsert(ctx context.Context, rec *LedgerRecord) error
	Get(ctx context.Context, employeeID int64, workDate string) (*LedgerRecord, error)
	// ListDiscrepancies returns unlocked rows in [from, to] whose manual
	// correction disagrees with the clock status.
	ListDiscrepancies(ctx context.Context, from, to string) ([]LedgerRecord, error)
}

type ledgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) LedgerStore {
	return &ledgerStore{db: db}
}

func (s *ledgerStore) Upsert(ctx context.Context, rec *LedgerRecord) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_ledger(employee_id, work_date, clock_in, clock_out, clock_status_code, manual_status_code, active_incident_id, updated_at)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT (employee_id, work_date)
		DO UPDATE SET clock_in=excluded.clock_in, clock_out=excluded.clock_out,
			clock_status_code=excluded.clock_status_code,
			manual_status_code=excluded.manual_status_code,
			updated_at=excluded.updated_at`,
		rec.EmployeeID, strings.TrimSpace(rec.WorkDate), rec.ClockIn, rec.ClockOut,
		strings.ToUpper(strings.TrimSpace(rec.ClockStatusCode)),
		strings.ToUpper(strings.TrimSpace(rec.ManualStatusCode)),
		nullableID(rec.ActiveIncidentID), now)
	return err
}

func (s *ledgerStore) Get(ctx context.Context, employeeID int64, workDate string) (*LedgerRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT employee_id, work_date, clock_in, clock_out, clock_status_code, manual_status_code, active_incident_id, updated_at
		FROM attendance_ledger WHERE employee_id=? AND work_date=?`, employeeID, strings.TrimSpace(workDate))
	var rec LedgerRecord
	var active sql.NullInt64
	if err := row.Scan(&rec.EmployeeID, &rec.WorkDate, &rec.ClockIn, &rec.ClockOut, &rec.ClockStatusCode, &rec.ManualStatusCode, &active, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if active.Valid {
		rec.ActiveIncidentID = &active.Int64
	}
	return &rec, nil
}

func (s *ledgerStore) ListDiscrepancies(ctx context.Context, from, to string) ([]LedgerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, work_date, clock_in, clock_out, clock_status_code, manual_status_code, active_incident_id, updated_at
		FROM attendance_ledger
		WHERE work_date >= ? AND work_date <= ?
			AND active_incident_id IS NULL
			AND manual_status_code != ''
			AND manual_status_code != clock_status_code
		ORDER BY work_date ASC, employee_id ASC`, strings.TrimSpace(from), strings.TrimSpace(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []LedgerRecord
	for rows.Next() {
		var rec LedgerRecord
		var active sql.NullInt64
		if err := rows.Scan(&rec.EmployeeID, &rec.WorkDate, &rec.ClockIn, &rec.ClockOut, &rec.ClockStatusCode, &rec.ManualStatusCode, &active, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if active.Valid {
			rec.ActiveIncidentID = &active.Int64
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}
