package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

type AttendanceStatus struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// CatalogStore is the status catalog consumed by resolve: it maps the
// supervisor-facing status code to its catalog identity.
type CatalogStore interface {
	ResolveStatusByCode(ctx context.Context, code string) (*AttendanceStatus, error)
	ListStatuses(ctx context.Context) ([]AttendanceStatus, error)
}

type catalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) CatalogStore {
	return &catalogStore{db: db}
}

func (s *catalogStore) ResolveStatusByCode(ctx context.Context, code string) (*AttendanceStatus, error) {
	clean := strings.ToUpper(strings.TrimSpace(code))
	if clean == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, code, name FROM attendance_statuses WHERE code=?`, clean)
	var st AttendanceStatus
	if err := row.Scan(&st.ID, &st.Code, &st.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

func (s *catalogStore) ListStatuses(ctx context.Context) ([]AttendanceStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name FROM attendance_statuses ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AttendanceStatus
	for rows.Next() {
		var st AttendanceStatus
		if err := rows.Scan(&st.ID, &st.Code, &st.Name); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}
