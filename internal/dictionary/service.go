// Package dictionary enriches single words with lemma, part of speech,
// definition and a Portuguese translation from public dictionary APIs.
package dictionary

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

const (
	defaultDefinitionBaseURL = "https://api.dictionaryapi.dev/api/v2/entries/en"
	defaultTranslationURL    = "https://api.mymemory.translated.net/get"

	lookupTimeout = 6 * time.Second

	// cacheSize 词条缓存容量（词表是长尾的，命中集中在常用词）
	cacheSize = 4096
)

var wordCleanRE = regexp.MustCompile(`[^a-zA-Z'-]+`)

// normalizeWord strips everything but letters, apostrophes and hyphens and
// lowercases the rest. Punctuation-only input normalizes to "".
func normalizeWord(word string) string {
	return strings.ToLower(strings.TrimSpace(wordCleanRE.ReplaceAllString(word, "")))
}

// Service looks up one word at a time against the upstream dictionary and
// translation APIs. Lookups never fail hard: an unreachable upstream just
// leaves the corresponding fields empty.
type Service struct {
	client         *http.Client
	mem            *lru.Cache[string, types.TokenAnalysis]
	group          singleflight.Group
	definitionBase string
	translationURL string
}

// NewService creates the lookup service over the public upstream APIs.
func NewService() *Service {
	return NewServiceWithEndpoints(defaultDefinitionBaseURL, defaultTranslationURL)
}

// NewServiceWithEndpoints creates the service against explicit upstream URLs.
func NewServiceWithEndpoints(definitionBase, translationURL string) *Service {
	mem, _ := lru.New[string, types.TokenAnalysis](cacheSize)
	return &Service{
		client:         &http.Client{Timeout: lookupTimeout},
		mem:            mem,
		definitionBase: definitionBase,
		translationURL: translationURL,
	}
}

// Lookup resolves one word to its enriched token info. The second return
// reports whether the answer came from the in-memory cache. Concurrent
// lookups for the same normalized word are coalesced into a single upstream
// round trip.
func (s *Service) Lookup(ctx context.Context, word string) (types.TokenAnalysis, bool) {
	normalized := normalizeWord(word)
	if normalized == "" {
		return types.TokenAnalysis{Token: word}, false
	}

	if info, ok := s.mem.Get(normalized); ok {
		return info, true
	}

	v, _, _ := s.group.Do(normalized, func() (interface{}, error) {
		lemma, pos, definition := s.lookupDefinition(ctx, normalized)
		translation := s.lookupTranslation(ctx, normalized)

		info := types.TokenAnalysis{
			Token:       normalized,
			Lemma:       lemma,
			POS:         pos,
			Translation: translation,
			Definition:  definition,
		}
		s.mem.Add(normalized, info)
		return info, nil
	})
	return v.(types.TokenAnalysis), false
}

// lookupDefinition resolves lemma, part of speech and first definition from
// the dictionary API. Any failure degrades to empty fields.
func (s *Service) lookupDefinition(ctx context.Context, word string) (lemma, pos, definition string) {
	body, ok := s.getJSON(ctx, s.definitionBase+"/"+url.PathEscape(word))
	if !ok {
		log.Printf("⚠️ [Dictionary] Definition lookup failed for %q", word)
		return "", "", ""
	}

	entry := gjson.GetBytes(body, "0")
	if !entry.Exists() {
		return "", "", ""
	}

	lemma = strings.TrimSpace(entry.Get("word").String())
	if lemma == "" {
		lemma = word
	}
	pos = strings.TrimSpace(entry.Get("meanings.0.partOfSpeech").String())
	definition = strings.TrimSpace(entry.Get("meanings.0.definitions.0.definition").String())
	return lemma, pos, definition
}

// lookupTranslation resolves the en -> pt-BR translation. Failures degrade
// to an empty string.
func (s *Service) lookupTranslation(ctx context.Context, word string) string {
	q := url.Values{}
	q.Set("q", word)
	q.Set("langpair", "en|pt-BR")

	body, ok := s.getJSON(ctx, s.translationURL+"?"+q.Encode())
	if !ok {
		log.Printf("⚠️ [Dictionary] Translation lookup failed for %q", word)
		return ""
	}
	return strings.TrimSpace(gjson.GetBytes(body, "responseData.translatedText").String())
}

// getJSON performs one GET and returns the body only on a 200 response.
func (s *Service) getJSON(ctx context.Context, rawURL string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	return body, true
}
