package analysis

import (
	"context"
	"log"

	"github.com/pwviptbl/AI-English-Mentor/internal/providers"
	"github.com/pwviptbl/AI-English-Mentor/internal/router"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// Result is an analysis response with its origin.
type Result struct {
	Analysis  types.SentenceAnalysis `json:"analysis"`
	Provider  string                 `json:"provider"`
	Model     string                 `json:"model"`
	FromCache bool                   `json:"from_cache"`
}

// Service answers sentence analysis requests, consulting the cache before
// dispatching to a backend.
type Service struct {
	cache  *ResultCache
	router *router.Router
}

// NewService creates the analysis service.
func NewService(cache *ResultCache, r *router.Router) *Service {
	return &Service{cache: cache, router: r}
}

// Analyze returns the analysis for a sentence. A cache hit skips backend
// dispatch entirely and reports the cache's recorded producer.
func (s *Service) Analyze(ctx context.Context, sentence, override, preference string, pctx types.ProviderContext) (Result, error) {
	if e, ok := s.cache.Lookup(ctx, sentence); ok {
		log.Printf("📦 [Analysis] Cache hit for digest %.12s", e.Digest)
		return Result{
			Analysis:  e.Analysis,
			Provider:  e.Provider,
			Model:     e.Model,
			FromCache: true,
		}, nil
	}

	var analysis types.SentenceAnalysis
	outcome, err := s.router.Dispatch(ctx, override, preference,
		func(ctx context.Context, p providers.Provider) (string, error) {
			a, model, err := p.AnalyzeSentence(ctx, sentence, pctx)
			if err != nil {
				return "", err
			}
			analysis = a
			return model, nil
		})
	if err != nil {
		return Result{}, err
	}

	s.cache.Record(ctx, sentence, analysis, outcome.Provider, outcome.Model)
	return Result{
		Analysis: analysis,
		Provider: outcome.Provider,
		Model:    outcome.Model,
	}, nil
}
