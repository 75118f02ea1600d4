package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mpchat/internal/apperr"
	"mpchat/internal/db"
)

var ErrUsernameTaken = errors.New("username already exists")

type Repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const userColumns = `id, username, display_name, avatar, is_online, last_seen, is_admin, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var (
		u        User
		lastSeen sql.NullTime
	)
	if err := s.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Avatar, &u.IsOnline, &lastSeen, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastSeen = &t
	}
	return &u, nil
}

func (r *Repository) Create(ctx context.Context, u *User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var lastSeen any
	if u.LastSeen != nil {
		lastSeen = *u.LastSeen
	}
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.DisplayName, u.Avatar, u.IsOnline, lastSeen, u.IsAdmin, u.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.one(row)
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return r.one(row)
}

func (r *Repository) one(row *sql.Row) (*User, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// ListExcluding returns every user except id, ordered by username.
func (r *Repository) ListExcluding(ctx context.Context, id string) ([]User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE id <> $1 ORDER BY username`, id)
}

func (r *Repository) ListAll(ctx context.Context) ([]User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, username`)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

// SetOnline updates the durable presence flag and stamps last_seen.
func (r *Repository) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = $1, last_seen = $2 WHERE id = $3`, online, at, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}

// ResetPresence marks every online user offline and reports how many changed.
func (r *Repository) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = $1, last_seen = $2 WHERE is_online = $3`, false, at, true)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// SetAdmin grants or revokes the admin flag.
func (r *Repository) SetAdmin(ctx context.Context, id string, admin bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET is_admin = $1 WHERE id = $2`, admin, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Delete removes the user row only. Dependent rows must be gone already.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}
