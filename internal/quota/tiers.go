// Package quota enforces per-user daily usage allowances by subscription
// tier. Limits live in the database and are cached here with a short TTL so
// the hot path never blocks on storage.
package quota

import (
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Subscription tiers.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// Purposes gated per day.
const (
	PurposeChat     = "chat"
	PurposeAnalysis = "analysis"
)

const tierCacheTTL = 60 * time.Second

// TierLimits 单个 tier 的每日限额
type TierLimits struct {
	DailyChatLimit     int `json:"daily_chat_limit"`
	DailyAnalysisLimit int `json:"daily_analysis_limit"`
}

// TierStore is the external source of tier configuration.
type TierStore interface {
	FetchAllTierLimits() (map[string]TierLimits, error)
}

// DefaultTierLimits are the hard-coded fallback used when the store cannot be
// reached. Availability wins over freshness here.
func DefaultTierLimits() map[string]TierLimits {
	return map[string]TierLimits{
		TierFree: {DailyChatLimit: 20, DailyAnalysisLimit: 10},
		TierPro:  {DailyChatLimit: 200, DailyAnalysisLimit: 100},
	}
}

// TierQuotaCache holds the last full snapshot of tier limits and refreshes it
// synchronously once it is older than the TTL. Concurrent refreshes for the
// same snapshot are coalesced into a single store fetch.
type TierQuotaCache struct {
	mu        sync.RWMutex
	store     TierStore
	snapshot  map[string]TierLimits
	fetchedAt time.Time
	group     singleflight.Group
	ttl       time.Duration
	now       func() time.Time
}

// NewTierQuotaCache creates a cache over the given store. The first read
// triggers a fetch.
func NewTierQuotaCache(store TierStore) *TierQuotaCache {
	return &TierQuotaCache{
		store: store,
		ttl:   tierCacheTTL,
		now:   time.Now,
	}
}

// LimitsFor returns the chat and analysis limits for tier, refreshing the
// snapshot when stale or when the tier is unknown. It never fails: a broken
// store falls back to the defaults.
func (c *TierQuotaCache) LimitsFor(tier string) TierLimits {
	c.mu.RLock()
	limits, ok := c.snapshot[tier]
	fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) <= c.ttl
	c.mu.RUnlock()

	if ok && fresh {
		return limits
	}

	c.refresh()

	c.mu.RLock()
	limits, ok = c.snapshot[tier]
	c.mu.RUnlock()
	if ok {
		return limits
	}

	// Unknown tier even after refresh: treat it as free.
	if fallback, ok := DefaultTierLimits()[tier]; ok {
		return fallback
	}
	return DefaultTierLimits()[TierFree]
}

// Invalidate marks the snapshot as expired so the next read re-fetches.
// Called after an admin changes tier limits.
func (c *TierQuotaCache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// refresh replaces the snapshot with a fresh fetch. Concurrent callers share
// one in-flight fetch through singleflight.
func (c *TierQuotaCache) refresh() {
	c.group.Do("tiers", func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the group.
		c.mu.RLock()
		fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) <= c.ttl
		c.mu.RUnlock()
		if fresh {
			return nil, nil
		}

		snapshot, err := c.store.FetchAllTierLimits()
		if err != nil || len(snapshot) == 0 {
			if err != nil {
				log.Printf("⚠️ [Quota] Tier limits fetch failed, using defaults: %v", err)
			}
			snapshot = DefaultTierLimits()
		}

		c.mu.Lock()
		c.snapshot = snapshot
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})
}
