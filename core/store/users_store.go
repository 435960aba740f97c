package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UsersStore interface {
	Create(ctx context.Context, user *User, roleNames []string) (int64, error)
	Get(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// RolesOfUser is the role directory contract used by vote checks.
	RolesOfUser(ctx context.Context, userID int64) ([]Role, error)
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

func (s *usersStore) Create(ctx context.Context, user *User, roleNames []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	active := 0
	if user.Active {
		active = 1
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO users(username, full_name, password_hash, salt, active, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?) RETURNING id`,
		strings.TrimSpace(user.Username), strings.TrimSpace(user.FullName), user.PasswordHash, user.Salt, active, now, now).Scan(&id); err != nil {
		tx.Rollback()
		return 0, err
	}
	for _, name := range roleNames {
		clean := strings.ToLower(strings.TrimSpace(name))
		if clean == "" {
			continue
		}
		var roleID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name=?`, clean).Scan(&roleID); err != nil {
			tx.Rollback()
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_roles(user_id, role_id) VALUES(?,?)`, id, roleID); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return id, nil
}

func (s *usersStore) Get(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, password_hash, salt, active, created_at, updated_at
		FROM users WHERE id=?`, id)
	return scanUser(row)
}

func (s *usersStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, password_hash, salt, active, created_at, updated_at
		FROM users WHERE username=?`, strings.TrimSpace(username))
	return scanUser(row)
}

func (s *usersStore) RolesOfUser(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description
		FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id=? ORDER BY r.name ASC`, userID)
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

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var active int
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.PasswordHash, &u.Salt, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Active = active == 1
	return &u, nil
}
