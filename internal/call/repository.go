package call

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mpchat/internal/apperr"
	"mpchat/internal/db"
)

type Repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

func (r *Repository) Create(ctx context.Context, c *Call) error {
	query := `INSERT INTO calls (id, caller_id, receiver_id, call_type, status, started_at, ended_at, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.CallerID, c.ReceiverID, string(c.Type), string(c.Status), c.StartedAt, c.EndedAt, c.Duration)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Call, error) {
	var (
		c         Call
		startedAt sql.NullTime
		endedAt   sql.NullTime
		duration  sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, caller_id, receiver_id, call_type, status, started_at, ended_at, duration FROM calls WHERE id = $1`, id).
		Scan(&c.ID, &c.CallerID, &c.ReceiverID, &c.Type, &c.Status, &startedAt, &endedAt, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Call not found")
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.Duration = &d
	}
	return &c, nil
}

// Update writes the mutable fields of a call.
func (r *Repository) Update(ctx context.Context, c *Call) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status = $1, started_at = $2, ended_at = $3, duration = $4 WHERE id = $5`,
		string(c.Status), c.StartedAt, c.EndedAt, c.Duration, c.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("Call not found")
	}
	return nil
}

// DeleteByUser removes every call userID took part in.
func (r *Repository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM calls WHERE caller_id = $1 OR receiver_id = $2`, userID, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
