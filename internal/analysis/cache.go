// Package analysis caches sentence analysis results by content digest so
// repeated requests for the same sentence never hit a backend twice.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// lruSize 内存层缓存容量，淘汰后仍可从数据库命中
const lruSize = 512

// Entry is one cached analysis with the producer that computed it.
type Entry struct {
	Digest     string                 `json:"digest"`
	SentenceEN string                 `json:"sentence_en"`
	Analysis   types.SentenceAnalysis `json:"analysis"`
	Provider   string                 `json:"provider"`
	Model      string                 `json:"model"`
}

// Store is the durable layer under the in-memory LRU.
type Store interface {
	// InsertIfAbsent persists the entry; a duplicate-digest conflict is
	// not an error and leaves the existing row untouched.
	InsertIfAbsent(ctx context.Context, e Entry) error
	FindByDigest(ctx context.Context, digest string) (Entry, bool, error)
}

// SentenceHash returns the content digest for a sentence. Casing and
// surrounding whitespace do not change the digest, so "Hello " and "hello"
// collapse to one cache entry.
func SentenceHash(sentence string) string {
	normalized := strings.ToLower(strings.TrimSpace(sentence))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ResultCache is an LRU in front of the durable store.
type ResultCache struct {
	store Store
	mem   *lru.Cache[string, Entry]
}

// NewResultCache creates a cache over the given durable store.
func NewResultCache(store Store) *ResultCache {
	mem, _ := lru.New[string, Entry](lruSize)
	return &ResultCache{store: store, mem: mem}
}

// Lookup returns the cached entry for a sentence, checking memory first and
// the durable store second. A store read error is treated as a miss so a
// degraded database never blocks analysis.
func (c *ResultCache) Lookup(ctx context.Context, sentence string) (Entry, bool) {
	digest := SentenceHash(sentence)

	if e, ok := c.mem.Get(digest); ok {
		return e, true
	}

	e, ok, err := c.store.FindByDigest(ctx, digest)
	if err != nil {
		log.Printf("⚠️ [Analysis] Cache lookup failed, treating as miss: %v", err)
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	c.mem.Add(digest, e)
	return e, true
}

// Record stores a freshly computed analysis. Best-effort: a concurrent
// writer winning the digest race is fine, the caller keeps its own result
// either way.
func (c *ResultCache) Record(ctx context.Context, sentence string, a types.SentenceAnalysis, provider, model string) Entry {
	e := Entry{
		Digest:     SentenceHash(sentence),
		SentenceEN: strings.TrimSpace(sentence),
		Analysis:   a,
		Provider:   provider,
		Model:      model,
	}

	c.mem.Add(e.Digest, e)

	if err := c.store.InsertIfAbsent(ctx, e); err != nil {
		log.Printf("⚠️ [Analysis] Cache write failed: %v", err)
	}
	return e
}
