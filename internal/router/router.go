package router

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/pwviptbl/AI-English-Mentor/internal/providers"
)

// firstBackendAttempts 首选后端的尝试次数，其余后端各一次
const firstBackendAttempts = 2

// alwaysAttemptProvider is attempted even when it reports unavailable.
// Gemini availability depends only on an API key that may be injected
// between checks, so a stale IsAvailable must not hide it.
const alwaysAttemptProvider = "gemini"

// Attempt records one dispatch try against one backend.
type Attempt struct {
	Provider string
	Attempt  int
	Err      error
}

// AllBackendsExhausted is returned when every eligible backend failed.
type AllBackendsExhausted struct {
	Attempts []Attempt
}

func (e *AllBackendsExhausted) Error() string {
	details := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		details = append(details, fmt.Sprintf("%s#%d: %v", a.Provider, a.Attempt, a.Err))
	}
	if len(details) == 0 {
		return "all backends exhausted: no backend eligible"
	}
	return "all backends exhausted: " + strings.Join(details, " | ")
}

// Outcome carries the winning backend and the per-attempt trail.
type Outcome struct {
	Provider string
	Model    string
	Attempts []Attempt
}

// Call runs one operation against a single provider and reports the model
// used. The router retries it across backends.
type Call func(ctx context.Context, p providers.Provider) (model string, err error)

// Recorder receives the result of each real dispatch attempt. Skipped
// unavailable backends are not reported.
type Recorder interface {
	RecordSuccess(backend string)
	RecordFailure(backend string)
}

// Router dispatches operations across registered providers with ordered
// failover.
type Router struct {
	mu              sync.RWMutex
	order           []string
	byName          map[string]providers.Provider
	defaultProvider func() string
	recorder        Recorder
}

// New creates a router. defaultProvider resolves the configured default at
// dispatch time so config hot-reloads take effect without re-registration.
func New(defaultProvider func() string) *Router {
	return &Router{
		byName:          make(map[string]providers.Provider),
		defaultProvider: defaultProvider,
	}
}

// SetRecorder attaches attempt metrics collection. Must be called before
// the router serves traffic.
func (r *Router) SetRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// Register adds a provider. Registration order is the lowest-priority
// ordering tier.
func (r *Router) Register(p providers.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.byName[name]; exists {
		r.byName[name] = p
		return
	}
	r.byName[name] = p
	r.order = append(r.order, name)
}

// Provider returns the registered provider by name.
func (r *Router) Provider(name string) (providers.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Providers lists registered providers in registration order.
func (r *Router) Providers() []providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// computeOrder builds the failover order: explicit override first, then the
// user preference, then the configured default, then registration order.
// Duplicates keep their first (highest-priority) position.
func (r *Router) computeOrder(override, preference string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]string, 0, len(r.order)+3)
	if override != "" {
		candidates = append(candidates, override)
	}
	if preference != "" {
		candidates = append(candidates, preference)
	}
	if r.defaultProvider != nil {
		if def := r.defaultProvider(); def != "" {
			candidates = append(candidates, def)
		}
	}
	candidates = append(candidates, r.order...)

	seen := make(map[string]bool, len(candidates))
	ordered := make([]string, 0, len(r.order))
	for _, name := range candidates {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, registered := r.byName[name]; registered {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

// Dispatch runs call against backends in failover order. The first backend
// gets firstBackendAttempts tries, every later backend one. Backends that
// report unavailable are skipped without consuming an attempt, except the
// always-attempt default which is tried regardless. Context cancellation
// stops the failover chain immediately.
func (r *Router) Dispatch(ctx context.Context, override, preference string, call Call) (Outcome, error) {
	order := r.computeOrder(override, preference)
	r.mu.RLock()
	rec := r.recorder
	r.mu.RUnlock()
	var trail []Attempt

	for i, name := range order {
		p, ok := r.Provider(name)
		if !ok {
			continue
		}
		if !p.IsAvailable() && name != alwaysAttemptProvider {
			log.Printf("⏭️ [Router] Skipping unavailable backend: %s", name)
			// Recorded with attempt 0: the skip shows up in the trail but
			// consumed no real attempt.
			trail = append(trail, Attempt{
				Provider: name,
				Attempt:  0,
				Err:      &providers.UnavailableError{Provider: name, Reason: "reported unavailable"},
			})
			continue
		}

		tries := 1
		if i == 0 {
			tries = firstBackendAttempts
		}

		for attempt := 1; attempt <= tries; attempt++ {
			if err := ctx.Err(); err != nil {
				return Outcome{Attempts: trail}, err
			}

			model, err := call(ctx, p)
			if err == nil {
				if rec != nil {
					rec.RecordSuccess(name)
				}
				trail = append(trail, Attempt{Provider: name, Attempt: attempt})
				return Outcome{Provider: name, Model: model, Attempts: trail}, nil
			}

			if rec != nil {
				rec.RecordFailure(name)
			}
			trail = append(trail, Attempt{Provider: name, Attempt: attempt, Err: err})
			log.Printf("⚠️ [Router] Backend %s attempt %d/%d failed: %v", name, attempt, tries, err)

			// An unavailable error mid-dispatch means the backend cannot
			// serve at all; further attempts against it are pointless.
			if providers.IsUnavailable(err) {
				break
			}
		}
	}

	return Outcome{Attempts: trail}, &AllBackendsExhausted{Attempts: trail}
}
