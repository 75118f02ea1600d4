// Package session keeps server-side login sessions so tokens can be revoked.
package session

import (
	"context"
	"errors"
	"time"
)

//go:generate go run go.uber.org/mock/mockgen -source=session.go -destination=mocks/mock_store.go -package=mocks

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	// RevokeUser drops every session belonging to userID.
	RevokeUser(ctx context.Context, userID string) error
}
