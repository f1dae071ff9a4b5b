package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pwviptbl/AI-English-Mentor/internal/database"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// DBStore persists analysis entries in the analysis_cache table.
type DBStore struct {
	db database.DB
}

// NewDBStore creates a store over the shared database handle.
func NewDBStore(db database.DB) *DBStore {
	return &DBStore{db: db}
}

// InsertIfAbsent inserts the entry, keeping the existing row when another
// writer already claimed the digest.
func (s *DBStore) InsertIfAbsent(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_cache (digest, sentence_en, payload, provider, model)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO NOTHING`,
		e.Digest, e.SentenceEN, string(payload), e.Provider, e.Model,
	)
	return err
}

// FindByDigest loads one cached analysis by its content digest.
func (s *DBStore) FindByDigest(ctx context.Context, digest string) (Entry, bool, error) {
	var (
		e       Entry
		payload string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, sentence_en, payload, provider, model
		FROM analysis_cache WHERE digest = ?`,
		digest,
	).Scan(&e.Digest, &e.SentenceEN, &payload, &e.Provider, &e.Model)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var a types.SentenceAnalysis
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return Entry{}, false, fmt.Errorf("corrupt analysis payload for %s: %w", digest, err)
	}
	e.Analysis = a
	return e, true, nil
}
