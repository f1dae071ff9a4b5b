package providers

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

const maxHistoryLines = 12

const defaultPersona = "You are an English conversation mentor. Respond only in English, naturally, and briefly."

func personaOrDefault(pctx types.ProviderContext) string {
	if strings.TrimSpace(pctx.PersonaPrompt) != "" {
		return pctx.PersonaPrompt
	}
	return defaultPersona
}

// buildCorrectionPrompt produces the strict-JSON correction instruction.
func buildCorrectionPrompt(rawText string) string {
	return "You are a strict English correction engine. The input can be Portuguese, English, or mixed. " +
		"Rewrite the user sentence in natural English while preserving intent and tone. " +
		"Return ONLY valid JSON with keys: corrected_text (string), changed (boolean), notes (string), " +
		"correction_categories (array of strings — error category names in Portuguese, e.g. " +
		`["tempo verbal", "pronominal", "preposição", "vocabulário", "ortografia", "gramática"]).` +
		"notes must be a concise explanation in Portuguese of each error found.\n" +
		"Input: " + rawText
}

// buildReplyPrompt flattens persona, history and the corrected input into a
// single conversational prompt.
func buildReplyPrompt(correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) string {
	persona := pctx.PersonaPrompt
	if persona == "" {
		persona = defaultPersona
	}
	learnerName := strings.TrimSpace(pctx.LearnerName)
	if learnerName == "" {
		learnerName = "Learner"
	}

	var sb strings.Builder
	sb.WriteString("System persona: " + persona + "\n")
	sb.WriteString("Learner name: " + learnerName + "\n")
	sb.WriteString("Conversation history:\n")
	for _, line := range historyLines(history) {
		sb.WriteString(line + "\n")
	}
	sb.WriteString("Learner corrected input: " + correctedText + "\n")
	sb.WriteString("Task: Reply as a conversation partner in English. " +
		"Use learner name naturally when it helps. Add one short follow-up question.")
	return sb.String()
}

// buildAnalysisPrompt asks for the tokenized sentence breakdown as JSON.
func buildAnalysisPrompt(sentenceEN string) string {
	return "You are an English tutor analyzer. Given one English sentence, return ONLY JSON with keys: " +
		"original_en (string), translation_pt (string), tokens (array). " +
		"Each token object must include: token, lemma, pos, translation, definition. " +
		"Use Portuguese in translation and definition.\n" +
		"Example output:\n" +
		`{ "original_en": "Hello world", "translation_pt": "Olá mundo", "tokens": [` +
		`{ "token": "Hello", "lemma": "hello", "pos": "interjection", "translation": "olá", "definition": "saudação" },` +
		`{ "token": "world", "lemma": "world", "pos": "noun", "translation": "mundo", "definition": "planeta Terra" }` +
		"] }\n" +
		"Sentence: " + sentenceEN
}

func buildTranslationPrompt(sentenceEN string) string {
	return "Translate the following English sentence to Brazilian Portuguese. " +
		"Return only the translated sentence without explanations.\n" +
		"Sentence: " + sentenceEN
}

// historyLines renders the last maxHistoryLines turns as "role: content".
func historyLines(history []types.HistoryMessage) []string {
	start := 0
	if len(history) > maxHistoryLines {
		start = len(history) - maxHistoryLines
	}
	lines := make([]string, 0, len(history)-start)
	for _, m := range history[start:] {
		role := m.Role
		if role == "" {
			role = "user"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, m.Content))
	}
	return lines
}

// extractJSONObject pulls the first JSON object out of sloppy LLM output.
// Models wrap JSON in prose or markdown fences often enough that a plain
// parse is not sufficient.
func extractJSONObject(text string) (gjson.Result, error) {
	candidate := strings.TrimSpace(text)
	if gjson.Valid(candidate) && strings.HasPrefix(candidate, "{") {
		return gjson.Parse(candidate), nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		inner := candidate[start : end+1]
		if gjson.Valid(inner) {
			return gjson.Parse(inner), nil
		}
	}
	return gjson.Result{}, fmt.Errorf("no JSON object found in model output")
}

// parseCorrection maps a correction JSON payload back onto the raw input,
// falling back to the raw text when the model returned nothing usable.
func parseCorrection(parsed gjson.Result, rawText string) types.CorrectionResult {
	trimmedRaw := strings.TrimSpace(rawText)

	corrected := strings.TrimSpace(parsed.Get("corrected_text").String())
	if corrected == "" {
		corrected = trimmedRaw
	}

	changed := corrected != trimmedRaw
	if c := parsed.Get("changed"); c.Exists() {
		changed = c.Bool()
	}

	var categories []string
	for _, c := range parsed.Get("correction_categories").Array() {
		if s := c.String(); s != "" {
			categories = append(categories, s)
		}
	}

	return types.CorrectionResult{
		CorrectedText: corrected,
		Changed:       changed,
		Notes:         parsed.Get("notes").String(),
		Categories:    categories,
	}
}

// parseAnalysis maps an analysis JSON payload into a SentenceAnalysis.
// Returns ok=false when the token list is empty, which triggers the caller's
// naive-tokenization fallback.
func parseAnalysis(parsed gjson.Result, sentenceEN string) (types.SentenceAnalysis, bool) {
	original := parsed.Get("original_en").String()
	if original == "" {
		original = sentenceEN
	}

	var tokens []types.TokenAnalysis
	for _, item := range parsed.Get("tokens").Array() {
		if !item.IsObject() {
			continue
		}
		tok := strings.TrimSpace(item.Get("token").String())
		if tok == "" {
			continue
		}
		tokens = append(tokens, types.TokenAnalysis{
			Token:       tok,
			Lemma:       strings.TrimSpace(item.Get("lemma").String()),
			POS:         strings.TrimSpace(item.Get("pos").String()),
			Translation: strings.TrimSpace(item.Get("translation").String()),
			Definition:  strings.TrimSpace(item.Get("definition").String()),
		})
	}

	analysis := types.SentenceAnalysis{
		OriginalEN:    original,
		TranslationPT: strings.TrimSpace(parsed.Get("translation_pt").String()),
		Tokens:        tokens,
	}
	return analysis, len(tokens) > 0
}

// naiveTokens splits a sentence into bare tokens, stripping punctuation.
// Last-resort fallback when the analysis model returns malformed output.
func naiveTokens(sentenceEN string) []types.TokenAnalysis {
	var tokens []types.TokenAnalysis
	for _, raw := range strings.Fields(sentenceEN) {
		tok := strings.Trim(raw, ".,!?;:\"'()")
		if tok == "" {
			continue
		}
		tokens = append(tokens, types.TokenAnalysis{Token: tok})
	}
	return tokens
}
