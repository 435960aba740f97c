package store

import (
	"context"
	"database/sql"
)

// PolicyStore holds the criticality level -> required role mapping.
// The workflow engine reads it; only admin endpoints write it.
type PolicyStore interface {
	RolesForLevel(ctx context.Context, level int) ([]int64, error)
	SetRolesForLevel(ctx context.Context, level int, roleIDs []int64) error
	ListLevels(ctx context.Context) (map[int][]int64, error)
}

type policyStore struct {
	db *sql.DB
}

func NewPolicyStore(db *sql.DB) PolicyStore {
	return &policyStore{db: db}
}

func (s *policyStore) RolesForLevel(ctx context.Context, level int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id FROM authorization_policies WHERE criticality_level=? ORDER BY role_id ASC`, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (s *policyStore) SetRolesForLevel(ctx context.Context, level int, roleIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM authorization_policies WHERE criticality_level=?`, level); err != nil {
		tx.Rollback()
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO authorization_policies(criticality_level, role_id) VALUES(?,?)`, level, roleID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *policyStore) ListLevels(ctx context.Context) (map[int][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT criticality_level, role_id FROM authorization_policies ORDER BY criticality_level, role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int][]int64{}
	for rows.Next() {
		var level int
		var roleID int64
		if err := rows.Scan(&level, &roleID); err != nil {
			return nil, err
		}
		res[level] = append(res[level], roleID)
	}
	return res, rows.Err()
}
