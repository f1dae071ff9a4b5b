// Package users persists learner accounts and their provider preference.
package users

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pwviptbl/AI-English-Mentor/internal/database"
	"github.com/pwviptbl/AI-English-Mentor/internal/quota"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// Store reads and writes the users table.
type Store struct {
	db database.DB
}

// NewStore creates a user store over the shared database handle.
func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// Fetch loads one user by id.
func (s *Store) Fetch(ctx context.Context, id string) (types.User, bool, error) {
	var u types.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, tier, preferred_provider
		FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.FullName, &u.Tier, &u.PreferredProvider)
	if err == sql.ErrNoRows {
		return types.User{}, false, nil
	}
	if err != nil {
		return types.User{}, false, err
	}
	return u, true, nil
}

// Ensure creates the user row on first sight and returns the stored user.
// Existing rows win over the caller-supplied name and tier.
func (s *Store) Ensure(ctx context.Context, u types.User) (types.User, error) {
	if u.Tier == "" {
		u.Tier = quota.TierFree
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, tier, preferred_provider)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		u.ID, u.FullName, u.Tier, u.PreferredProvider,
	)
	if err != nil {
		return types.User{}, fmt.Errorf("ensure user: %w", err)
	}

	stored, ok, err := s.Fetch(ctx, u.ID)
	if err != nil {
		return types.User{}, err
	}
	if !ok {
		return u, nil
	}
	return stored, nil
}

// SetPreferredProvider stores the user's provider preference. Empty clears it.
func (s *Store) SetPreferredProvider(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET preferred_provider = ? WHERE id = ?",
		provider, userID,
	)
	return err
}

// SetTier updates a user's tier.
func (s *Store) SetTier(ctx context.Context, userID, tier string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET tier = ? WHERE id = ?",
		tier, userID,
	)
	return err
}
