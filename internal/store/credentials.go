package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gcbbot/internal/core"
	apperrors "gcbbot/pkg/errors"
)

// Credentials implements core.CredentialStore on the sqlite store. The
// resolved secret stays inside the venue signing path; callers must never
// log it.
type Credentials struct {
	store *Store
}

// NewCredentials creates the credential store.
func NewCredentials(s *Store) *Credentials { return &Credentials{store: s} }

// Resolve returns the user's venue credentials. A missing user, a user
// with trading disabled, and a user without keys all fail the same way so
// the engines need just one admission check.
func (c *Credentials) Resolve(ctx context.Context, userID string) (core.Credentials, error) {
	var (
		apiKey    string
		apiSecret string
		enabled   int
	)
	err := c.store.db.QueryRowContext(ctx,
		`SELECT api_key, api_secret, bot_enabled FROM users WHERE id = ?`, userID).
		Scan(&apiKey, &apiSecret, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Credentials{}, fmt.Errorf("%w: unknown user %s", apperrors.ErrNoCredentials, userID)
	}
	if err != nil {
		return core.Credentials{}, fmt.Errorf("resolve credentials: %w", err)
	}
	if enabled == 0 {
		return core.Credentials{}, fmt.Errorf("%w: %w: user %s", apperrors.ErrNoCredentials, apperrors.ErrUserDisabled, userID)
	}
	if apiKey == "" || apiSecret == "" {
		return core.Credentials{}, fmt.Errorf("%w: user %s has no keys", apperrors.ErrNoCredentials, userID)
	}
	return core.Credentials{APIKey: apiKey, APISecret: apiSecret}, nil
}

// SetBotEnabled flips a user's trading switch.
func (c *Credentials) SetBotEnabled(ctx context.Context, userID string, enabled bool) error {
	res, err := c.store.db.ExecContext(ctx,
		`UPDATE users SET bot_enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("set bot enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown user %s", userID)
	}
	return nil
}

// UpsertUser creates or updates a user row with its keys.
func (c *Credentials) UpsertUser(ctx context.Context, u *core.User) error {
	now := time.Now().UnixMilli()
	_, err := c.store.db.ExecContext(ctx, `
		INSERT INTO users (id, api_key, api_secret, bot_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			bot_enabled = excluded.bot_enabled,
			updated_at = excluded.updated_at`,
		u.ID, u.APIKey, u.APISecret, boolInt(u.BotEnabled), now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
