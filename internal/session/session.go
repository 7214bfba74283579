// Package session stores the server-side auth sessions created when a portal
// token is exchanged for a cookie.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned for unknown, expired and revoked sessions.
var ErrSessionNotFound = errors.New("session not found or expired")

// Data is the identity bound to a session cookie.
type Data struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Email     string    `json:"email,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists auth sessions. Implementations must treat expiry as absence.
type Store interface {
	Save(ctx context.Context, data Data, ttl time.Duration) error
	Lookup(ctx context.Context, id string) (Data, error)
	Revoke(ctx context.Context, id string) error
}
