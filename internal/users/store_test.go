package users

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pwviptbl/AI-English-Mentor/internal/database"
	"github.com/pwviptbl/AI-English-Mentor/internal/quota"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.NewSQLite(database.Config{
		Type: database.DialectSQLite,
		URL:  filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return NewStore(db)
}

func TestEnsureDefaultsToFreeTier(t *testing.T) {
	s := newTestStore(t)

	u, err := s.Ensure(context.Background(), types.User{ID: "u1", FullName: "Ana"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if u.Tier != quota.TierFree {
		t.Fatalf("Tier = %q, want free", u.Tier)
	}
	if u.FullName != "Ana" {
		t.Fatalf("FullName = %q, want Ana", u.FullName)
	}
}

func TestEnsureExistingRowWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Ensure(ctx, types.User{ID: "u1", FullName: "Ana", Tier: quota.TierPro}); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	// A later request with different headers must not overwrite the row.
	u, err := s.Ensure(ctx, types.User{ID: "u1", FullName: "Impostor", Tier: quota.TierFree})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if u.FullName != "Ana" || u.Tier != quota.TierPro {
		t.Fatalf("Ensure() = %+v, want original row preserved", u)
	}
}

func TestSetPreferredProviderAndTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Ensure(ctx, types.User{ID: "u1"}); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	if err := s.SetPreferredProvider(ctx, "u1", "ollama"); err != nil {
		t.Fatalf("SetPreferredProvider() error = %v", err)
	}
	if err := s.SetTier(ctx, "u1", quota.TierPro); err != nil {
		t.Fatalf("SetTier() error = %v", err)
	}

	u, ok, err := s.Fetch(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Fetch() = %v, %v, want found", ok, err)
	}
	if u.PreferredProvider != "ollama" || u.Tier != quota.TierPro {
		t.Fatalf("Fetch() = %+v, want updated preference and tier", u)
	}

	// Clearing the preference stores the empty string.
	if err := s.SetPreferredProvider(ctx, "u1", ""); err != nil {
		t.Fatalf("SetPreferredProvider() error = %v", err)
	}
	u, _, _ = s.Fetch(ctx, "u1")
	if u.PreferredProvider != "" {
		t.Fatalf("PreferredProvider = %q, want empty", u.PreferredProvider)
	}
}

func TestFetchUnknownUser(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Fetch(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if ok {
		t.Fatalf("Fetch() found a user that was never created")
	}
}
