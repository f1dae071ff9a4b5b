// Package providers contains the AI backend implementations behind the
// capability contract the router dispatches against.
package providers

import (
	"context"

	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// Provider 每个 AI 后端实现的能力契约
//
// Model strings returned alongside results identify the concrete upstream
// model that produced the output, for persistence and labeling.
type Provider interface {
	Name() string

	// IsAvailable reports whether the provider is configured and credentialed.
	// It must be cheap; no network calls.
	IsAvailable() bool

	CorrectInput(ctx context.Context, rawText string, pctx types.ProviderContext) (types.CorrectionResult, string, error)

	GenerateReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (types.ChatResult, string, error)

	// StreamReply produces a finite, non-restartable sequence of text chunks.
	// Both channels are closed by the provider when the stream ends. The
	// producer observes ctx between chunks and stops promptly on cancellation.
	StreamReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (<-chan string, <-chan error, string, error)

	AnalyzeSentence(ctx context.Context, sentenceEN string, pctx types.ProviderContext) (types.SentenceAnalysis, string, error)
}
