package quota

import (
	"fmt"
	"time"

	"github.com/pwviptbl/AI-English-Mentor/internal/ratelimit"
)

const dailyWindow = 24 * time.Hour

// Decision is the outcome of an admission check. When denied, Used and Limit
// let the caller build an exact "X/Y used" message.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Purpose string `json:"purpose"`
	Tier    string `json:"tier"`
	Used    int    `json:"used"`
	Limit   int    `json:"limit"`
	// ResetAt is when the oldest counted request leaves the rolling window.
	// Zero when allowed or when nothing is recorded yet.
	ResetAt time.Time `json:"reset_at,omitempty"`
}

// Message renders the caller-facing denial text.
func (d Decision) Message() string {
	return fmt.Sprintf("daily %s limit reached for tier %s: %d/%d used, resets 24h after your first request",
		d.Purpose, d.Tier, d.Used, d.Limit)
}

// DailyQuotaGate combines the tier limits cache with the sliding window
// limiter over a rolling 24h window. The window is deliberately anchored to
// each request, not to a calendar day.
type DailyQuotaGate struct {
	limiter *ratelimit.SlidingWindowLimiter
	tiers   *TierQuotaCache
}

// NewDailyQuotaGate creates a gate with its own limiter buckets.
func NewDailyQuotaGate(tiers *TierQuotaCache) *DailyQuotaGate {
	return &DailyQuotaGate{
		limiter: ratelimit.NewSlidingWindowLimiter(),
		tiers:   tiers,
	}
}

// Admit records and admits one action of the given purpose, or denies with
// the exact used/limit counts. Never returns an error: limit resolution
// degrades to defaults inside the tier cache.
func (g *DailyQuotaGate) Admit(userID, tier, purpose string) Decision {
	limits := g.tiers.LimitsFor(tier)

	limit := limits.DailyChatLimit
	if purpose == PurposeAnalysis {
		limit = limits.DailyAnalysisLimit
	}

	key := purpose + ":" + userID
	if g.limiter.Check(key, limit, dailyWindow) {
		return Decision{Allowed: true, Purpose: purpose, Tier: tier, Limit: limit,
			Used: g.limiter.Count(key, dailyWindow)}
	}

	used := g.limiter.Count(key, dailyWindow)
	decision := Decision{
		Allowed: false,
		Purpose: purpose,
		Tier:    tier,
		Used:    used,
		Limit:   limit,
	}
	if oldest := g.limiter.OldestInWindow(key, dailyWindow); !oldest.IsZero() {
		decision.ResetAt = oldest.Add(dailyWindow)
	}
	return decision
}

// Usage reports used/limit for one purpose without consuming an admission.
func (g *DailyQuotaGate) Usage(userID, tier, purpose string) Decision {
	limits := g.tiers.LimitsFor(tier)

	limit := limits.DailyChatLimit
	if purpose == PurposeAnalysis {
		limit = limits.DailyAnalysisLimit
	}

	key := purpose + ":" + userID
	return Decision{
		Allowed: true,
		Purpose: purpose,
		Tier:    tier,
		Used:    g.limiter.Count(key, dailyWindow),
		Limit:   limit,
	}
}

// InvalidateTierCache forces the next admission to re-read tier limits.
func (g *DailyQuotaGate) InvalidateTierCache() {
	g.tiers.Invalidate()
}
