// Package types holds the shared data shapes exchanged between the
// providers, the router and the chat/analysis services.
package types

// HistoryMessage 会话历史中的一条消息（oldest first）
type HistoryMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ProviderContext carries per-conversation context passed down to every
// provider call (persona, topic, learner name for prompt building).
type ProviderContext struct {
	Topic         string `json:"topic,omitempty"`
	PersonaPrompt string `json:"persona_prompt,omitempty"`
	LearnerName   string `json:"learner_name,omitempty"`
}

// CorrectionResult 输入纠错结果
type CorrectionResult struct {
	CorrectedText string   `json:"corrected_text"`
	Changed       bool     `json:"changed"`
	Notes         string   `json:"notes"`
	Categories    []string `json:"categories,omitempty"`
}

// ChatResult is the non-streamed assistant reply.
type ChatResult struct {
	Reply string `json:"reply"`
}

// TokenAnalysis describes one token of an analyzed sentence.
type TokenAnalysis struct {
	Token       string `json:"token"`
	Lemma       string `json:"lemma,omitempty"`
	POS         string `json:"pos,omitempty"`
	Translation string `json:"translation,omitempty"`
	Definition  string `json:"definition,omitempty"`
}

// SentenceAnalysis 句子分析结果（翻译 + 逐词解析）
type SentenceAnalysis struct {
	OriginalEN    string          `json:"original_en"`
	TranslationPT string          `json:"translation_pt"`
	Tokens        []TokenAnalysis `json:"tokens"`
}

// User is the resolved caller of a request. Authentication itself lives
// outside this service; we only consume the resolved identity.
type User struct {
	ID                string `json:"id"`
	FullName          string `json:"full_name"`
	Tier              string `json:"tier"`
	PreferredProvider string `json:"preferred_ai_provider"`
}
