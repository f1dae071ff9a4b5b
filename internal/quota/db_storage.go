package quota

import (
	"context"
	"fmt"
	"log"

	"github.com/pwviptbl/AI-English-Mentor/internal/database"
)

// DBTierStore reads tier limits from the tier_limits table.
type DBTierStore struct {
	db database.DB
}

// NewDBTierStore creates the store over the shared database handle.
func NewDBTierStore(db database.DB) *DBTierStore {
	return &DBTierStore{db: db}
}

// FetchAllTierLimits loads every configured tier.
func (s *DBTierStore) FetchAllTierLimits() (map[string]TierLimits, error) {
	rows, err := s.db.Query("SELECT tier, chat_daily_limit, analysis_daily_limit FROM tier_limits")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	limits := make(map[string]TierLimits)
	for rows.Next() {
		var (
			tier string
			l    TierLimits
		)
		if err := rows.Scan(&tier, &l.DailyChatLimit, &l.DailyAnalysisLimit); err != nil {
			return nil, err
		}
		limits[tier] = l
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(limits) == 0 {
		return nil, fmt.Errorf("tier_limits table is empty")
	}
	return limits, nil
}

// SeedDefaults inserts the built-in free/pro rows when missing. Existing
// rows are left untouched so operator edits survive restarts.
func (s *DBTierStore) SeedDefaults(ctx context.Context) error {
	for tier, l := range DefaultTierLimits() {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tier_limits (tier, chat_daily_limit, analysis_daily_limit)
			VALUES (?, ?, ?)
			ON CONFLICT(tier) DO NOTHING`,
			tier, l.DailyChatLimit, l.DailyAnalysisLimit,
		)
		if err != nil {
			return fmt.Errorf("seed tier %s: %w", tier, err)
		}
	}
	log.Printf("📦 [Quota] Tier limits seeded (existing rows preserved)")
	return nil
}

// UpdateTierLimits upserts one tier's limits. Negative values clamp to 0,
// which denies the purpose entirely.
func (s *DBTierStore) UpdateTierLimits(ctx context.Context, tier string, l TierLimits) error {
	if l.DailyChatLimit < 0 {
		l.DailyChatLimit = 0
	}
	if l.DailyAnalysisLimit < 0 {
		l.DailyAnalysisLimit = 0
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier_limits (tier, chat_daily_limit, analysis_daily_limit)
		VALUES (?, ?, ?)
		ON CONFLICT(tier) DO UPDATE SET
			chat_daily_limit = EXCLUDED.chat_daily_limit,
			analysis_daily_limit = EXCLUDED.analysis_daily_limit,
			updated_at = CURRENT_TIMESTAMP`,
		tier, l.DailyChatLimit, l.DailyAnalysisLimit,
	)
	return err
}
