package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type RolesStore interface {
	Ensure(ctx context.Context, name, description string) (int64, error)
	Get(ctx context.Context, id int64) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
}

type rolesStore struct {
	db *sql.DB
}

func NewRolesStore(db *sql.DB) RolesStore {
	return &rolesStore{db: db}
}

func (s *rolesStore) Ensure(ctx context.Context, name, description string) (int64, error) {
	clean := strings.ToLower(strings.TrimSpace(name))
	if existing, err := s.GetByName(ctx, clean); err != nil {
		return 0, err
	} else if existing != nil {
		return existing.ID, nil
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles(name, description) VALUES(?,?) RETURNING id`, clean, strings.TrimSpace(description)).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *rolesStore) Get(ctx context.Context, id int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, description FROM roles WHERE id=?`, id)
	return scanRole(row)
}

func (s *rolesStore) GetByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, description FROM roles WHERE name=?`, strings.ToLower(strings.TrimSpace(name)))
	return scanRole(row)
}

func (s *rolesStore) List(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description FROM roles ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func scanRole(row *sql.Row) (*Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}
