// dbtool rehashes analysis_cache digests after a change to sentence
// normalization. Rows written by older builds hashed the raw sentence, so
// lookups that normalize first miss them. Dry-run by default.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pwviptbl/AI-English-Mentor/internal/analysis"
	_ "modernc.org/sqlite"
)

func main() {
	log.SetFlags(0)

	dbPath := flag.String("db", ".config/mentor.db", "path to SQLite DB (mentor.db)")
	apply := flag.Bool("apply", false, "apply changes (default: dry-run)")
	limit := flag.Int("limit", 10, "sample rows to print in dry-run")
	flag.Parse()

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := ensureTable(db); err != nil {
		log.Fatalf("schema check: %v", err)
	}

	stale, err := collectStale(db)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	log.Printf("stale digests: %d", len(stale))

	if !*apply {
		for i, r := range stale {
			if i >= *limit {
				break
			}
			log.Printf("- %q: %.12s -> %.12s", r.sentence, r.digest, r.want)
		}
		log.Printf("dry-run complete (use --apply to update)")
		return
	}

	if len(stale) == 0 {
		log.Printf("nothing to do")
		return
	}

	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("begin: %v", err)
	}

	updated, dropped, err := rehash(tx, stale)
	if err != nil {
		_ = tx.Rollback()
		log.Fatalf("update: %v", err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("commit: %v", err)
	}

	log.Printf("updated rows: %d", updated)
	log.Printf("dropped duplicates: %d", dropped)
}

type staleRow struct {
	digest   string
	sentence string
	want     string
}

func ensureTable(db *sql.DB) error {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='analysis_cache'").Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("table analysis_cache not found (wrong --db path?)")
	}
	return nil
}

func collectStale(db *sql.DB) ([]staleRow, error) {
	rows, err := db.Query("SELECT digest, sentence_en FROM analysis_cache")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []staleRow
	for rows.Next() {
		var r staleRow
		if err := rows.Scan(&r.digest, &r.sentence); err != nil {
			return nil, err
		}
		r.want = analysis.SentenceHash(r.sentence)
		if r.want != r.digest {
			stale = append(stale, r)
		}
	}
	return stale, rows.Err()
}

// rehash rewrites digests in place. When the corrected digest already exists
// the older row wins and the stale duplicate is dropped.
func rehash(tx *sql.Tx, stale []staleRow) (updated, dropped int64, err error) {
	for _, r := range stale {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM analysis_cache WHERE digest = ?", r.want).Scan(&n); err != nil {
			return updated, dropped, err
		}
		if n > 0 {
			if _, err := tx.Exec("DELETE FROM analysis_cache WHERE digest = ?", r.digest); err != nil {
				return updated, dropped, err
			}
			dropped++
			continue
		}
		if _, err := tx.Exec("UPDATE analysis_cache SET digest = ? WHERE digest = ?", r.want, r.digest); err != nil {
			return updated, dropped, err
		}
		updated++
	}
	return updated, dropped, nil
}

func init() {
	if v := os.Getenv("DBTOOL_LOG_PREFIX"); v != "" {
		log.SetPrefix(v)
	}
}
