package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nongsaijai/api/internal/session"
)

// AuthSessionStore keeps auth sessions in Postgres when Redis is not
// configured.
type AuthSessionStore struct {
	db *sql.DB
}

var _ session.Store = (*AuthSessionStore)(nil)

func NewAuthSessionStore(db *sql.DB) *AuthSessionStore {
	return &AuthSessionStore{db: db}
}

func (s *AuthSessionStore) Save(ctx context.Context, data session.Data, ttl time.Duration) error {
	if data.ID == "" {
		return errors.New("save session: empty id")
	}
	if ttl <= 0 {
		return fmt.Errorf("save session: non-positive ttl %s", ttl)
	}
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now().UTC()
	}
	if data.ExpiresAt.IsZero() {
		data.ExpiresAt = data.CreatedAt.Add(ttl)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (id, user_id, user_name, email, is_admin, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id=EXCLUDED.user_id,
			user_name=EXCLUDED.user_name,
			email=EXCLUDED.email,
			is_admin=EXCLUDED.is_admin,
			expires_at=EXCLUDED.expires_at,
			revoked_at=NULL
	`, data.ID, data.UserID, data.UserName, data.Email, data.IsAdmin, data.CreatedAt, data.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *AuthSessionStore) Lookup(ctx context.Context, id string) (session.Data, error) {
	var data session.Data
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, user_name, email, is_admin, created_at, expires_at
		FROM auth_sessions
		WHERE id=$1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, id).Scan(&data.ID, &data.UserID, &data.UserName, &data.Email, &data.IsAdmin, &data.CreatedAt, &data.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Data{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Data{}, fmt.Errorf("lookup session: %w", err)
	}
	return data, nil
}

func (s *AuthSessionStore) Revoke(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE auth_sessions SET revoked_at=NOW() WHERE id=$1 AND revoked_at IS NULL`, id); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// PurgeExpired removes sessions that expired before the cutoff.
func (s *AuthSessionStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions rows: %w", err)
	}
	return count, nil
}
