package quota

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTierStore struct {
	mu      sync.Mutex
	limits  map[string]TierLimits
	err     error
	fetches int32
}

func (s *fakeTierStore) FetchAllTierLimits() (map[string]TierLimits, error) {
	atomic.AddInt32(&s.fetches, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]TierLimits, len(s.limits))
	for k, v := range s.limits {
		out[k] = v
	}
	return out, nil
}

func (s *fakeTierStore) Fetches() int32 { return atomic.LoadInt32(&s.fetches) }

func TestTierQuotaCache_FetchesOnceWithinTTL(t *testing.T) {
	store := &fakeTierStore{limits: map[string]TierLimits{
		TierFree: {DailyChatLimit: 5, DailyAnalysisLimit: 2},
	}}
	cache := NewTierQuotaCache(store)

	for i := 0; i < 10; i++ {
		limits := cache.LimitsFor(TierFree)
		if limits.DailyChatLimit != 5 {
			t.Fatalf("DailyChatLimit = %d, want 5", limits.DailyChatLimit)
		}
	}
	if got := store.Fetches(); got != 1 {
		t.Fatalf("store fetches = %d, want 1", got)
	}
}

func TestTierQuotaCache_RefreshesWhenStale(t *testing.T) {
	store := &fakeTierStore{limits: map[string]TierLimits{
		TierFree: {DailyChatLimit: 5, DailyAnalysisLimit: 2},
	}}
	cache := NewTierQuotaCache(store)
	now := time.Unix(1700000000, 0)
	cache.now = func() time.Time { return now }

	cache.LimitsFor(TierFree)
	now = now.Add(61 * time.Second)
	cache.LimitsFor(TierFree)

	if got := store.Fetches(); got != 2 {
		t.Fatalf("store fetches = %d, want 2 after TTL expiry", got)
	}
}

func TestTierQuotaCache_FallsBackToDefaultsOnStoreError(t *testing.T) {
	store := &fakeTierStore{err: errors.New("db down")}
	cache := NewTierQuotaCache(store)

	limits := cache.LimitsFor(TierPro)
	want := DefaultTierLimits()[TierPro]
	if limits != want {
		t.Fatalf("LimitsFor(pro) = %+v, want defaults %+v", limits, want)
	}
}

func TestTierQuotaCache_CoalescesConcurrentRefreshes(t *testing.T) {
	store := &fakeTierStore{limits: map[string]TierLimits{
		TierFree: {DailyChatLimit: 5, DailyAnalysisLimit: 2},
	}}
	cache := NewTierQuotaCache(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.LimitsFor(TierFree)
		}()
	}
	wg.Wait()

	if got := store.Fetches(); got != 1 {
		t.Fatalf("store fetches = %d, want 1 (coalesced)", got)
	}
}

func TestTierQuotaCache_InvalidateForcesRefetch(t *testing.T) {
	store := &fakeTierStore{limits: map[string]TierLimits{
		TierFree: {DailyChatLimit: 5, DailyAnalysisLimit: 2},
	}}
	cache := NewTierQuotaCache(store)

	cache.LimitsFor(TierFree)

	store.mu.Lock()
	store.limits[TierFree] = TierLimits{DailyChatLimit: 7, DailyAnalysisLimit: 3}
	store.mu.Unlock()

	cache.Invalidate()
	limits := cache.LimitsFor(TierFree)
	if limits.DailyChatLimit != 7 {
		t.Fatalf("DailyChatLimit after invalidate = %d, want 7", limits.DailyChatLimit)
	}
}

func TestDailyQuotaGate_DenialCarriesUsedAndLimit(t *testing.T) {
	store := &fakeTierStore{limits: map[string]TierLimits{
		TierFree: {DailyChatLimit: 3, DailyAnalysisLimit: 1},
	}}
	gate := NewDailyQuotaGate(NewTierQuotaCache(store))

	for i := 0; i < 3; i++ {
		d := gate.Admit("u1", TierFree, PurposeChat)
		if !d.Allowed {
			t.Fatalf("Admit #%d denied, want allowed", i+1)
		}
	}

	d := gate.Admit("u1", TierFree, PurposeChat)
	if d.Allowed {
		t.Fatalf("4th Admit allowed, want denied")
	}
	if d.Used != 3 || d.Limit != 3 {
		t.Fatalf("denial = used %d / limit %d, want 3/3", d.Used, d.Limit)
	}
	if d.ResetAt.IsZero() {
		t.Fatalf("denial ResetAt is zero, want oldest request + 24h")
	}
}

func TestDailyQuotaGate_PurposesAreIndependent(t *testing.T) {
	store := &fakeTierStore{limits: map[string]TierLimits{
		TierFree: {DailyChatLimit: 1, DailyAnalysisLimit: 1},
	}}
	gate := NewDailyQuotaGate(NewTierQuotaCache(store))

	if d := gate.Admit("u1", TierFree, PurposeChat); !d.Allowed {
		t.Fatalf("chat admit denied")
	}
	if d := gate.Admit("u1", TierFree, PurposeAnalysis); !d.Allowed {
		t.Fatalf("analysis admit denied, want separate bucket from chat")
	}
	if d := gate.Admit("u2", TierFree, PurposeChat); !d.Allowed {
		t.Fatalf("other user's chat admit denied, want separate bucket")
	}
}

func TestDailyQuotaGate_UsageDoesNotConsume(t *testing.T) {
	store := &fakeTierStore{limits: map[string]TierLimits{
		TierFree: {DailyChatLimit: 2, DailyAnalysisLimit: 1},
	}}
	gate := NewDailyQuotaGate(NewTierQuotaCache(store))

	gate.Admit("u1", TierFree, PurposeChat)
	for i := 0; i < 5; i++ {
		if d := gate.Usage("u1", TierFree, PurposeChat); d.Used != 1 {
			t.Fatalf("Usage().Used = %d, want 1", d.Used)
		}
	}
}
