package providers

import (
	"bufio"
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pwviptbl/AI-English-Mentor/internal/config"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiProvider Google Gemini 提供商（系统默认，总是参与调度）
type GeminiProvider struct {
	cfg    *config.ProvidersManager
	client *http.Client
}

// NewGeminiProvider creates a Gemini provider reading live settings from the
// providers manager.
func NewGeminiProvider(cfg *config.ProvidersManager) *GeminiProvider {
	return &GeminiProvider{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

// IsAvailable 仅当 API Key 已配置时可用
func (p *GeminiProvider) IsAvailable() bool {
	return p.cfg.GetSettings().Gemini.APIKey != ""
}

// generate performs one non-streamed generateContent call and returns the
// concatenated candidate text.
func (p *GeminiProvider) generate(ctx context.Context, prompt, model string, timeout time.Duration) (string, error) {
	settings := p.cfg.GetSettings().Gemini
	if settings.APIKey == "" {
		return "", unavailable(p.Name(), "GEMINI_API_KEY is not set")
	}

	url := geminiBaseURL + "/" + model + ":generateContent?key=" + settings.APIKey

	body, _ := sjson.Set("", "contents.0.role", "user")
	body, _ = sjson.Set(body, "contents.0.parts.0.text", prompt)
	body, _ = sjson.Set(body, "generationConfig.temperature", 0.2)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", requestFailed(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", requestFailed(p.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", requestFailed(p.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", requestFailedf(p.Name(), "status=%d body=%s", resp.StatusCode, truncate(string(respBody), 200))
	}

	candidates := gjson.GetBytes(respBody, "candidates")
	if !candidates.Exists() || len(candidates.Array()) == 0 {
		return "", requestFailedf(p.Name(), "no candidates in response")
	}

	var sb strings.Builder
	for _, part := range gjson.GetBytes(respBody, "candidates.0.content.parts").Array() {
		if t := part.Get("text").String(); t != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(t)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", requestFailedf(p.Name(), "empty text in response")
	}
	return text, nil
}

func (p *GeminiProvider) CorrectInput(ctx context.Context, rawText string, pctx types.ProviderContext) (types.CorrectionResult, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Gemini.ModelCorrection

	text, err := p.generate(ctx, buildCorrectionPrompt(rawText), model, secs(settings.Timeouts.CorrectionSeconds))
	if err != nil {
		return types.CorrectionResult{}, "", err
	}

	parsed, err := extractJSONObject(text)
	if err != nil {
		return types.CorrectionResult{}, "", requestFailed(p.Name(), err)
	}
	return parseCorrection(parsed, rawText), model, nil
}

func (p *GeminiProvider) GenerateReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (types.ChatResult, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Gemini.ModelChat

	text, err := p.generate(ctx, buildReplyPrompt(correctedText, history, pctx), model, secs(settings.Timeouts.ChatSeconds))
	if err != nil {
		return types.ChatResult{}, "", err
	}
	return types.ChatResult{Reply: strings.TrimSpace(text)}, model, nil
}

// StreamReply 通过 streamGenerateContent (SSE) 产生回复分片
func (p *GeminiProvider) StreamReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (<-chan string, <-chan error, string, error) {
	settings := p.cfg.GetSettings()
	if settings.Gemini.APIKey == "" {
		return nil, nil, "", unavailable(p.Name(), "GEMINI_API_KEY is not set")
	}
	model := settings.Gemini.ModelChat

	url := geminiBaseURL + "/" + model + ":streamGenerateContent?key=" + settings.Gemini.APIKey + "&alt=sse"

	body, _ := sjson.Set("", "contents.0.role", "user")
	body, _ = sjson.Set(body, "contents.0.parts.0.text", buildReplyPrompt(correctedText, history, pctx))
	body, _ = sjson.Set(body, "generationConfig.temperature", 0.2)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, nil, "", requestFailed(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, "", requestFailed(p.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, "", requestFailedf(p.Name(), "stream status=%d body=%s", resp.StatusCode, truncate(string(respBody), 200))
	}

	chunkChan := make(chan string, 32)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			raw := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if raw == "" || raw == "[DONE]" {
				continue
			}
			for _, part := range gjson.Get(raw, "candidates.0.content.parts").Array() {
				token := part.Get("text").String()
				if token == "" {
					continue
				}
				select {
				case chunkChan <- token:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errChan <- requestFailed(p.Name(), err)
		}
	}()

	return chunkChan, errChan, model, nil
}

func (p *GeminiProvider) AnalyzeSentence(ctx context.Context, sentenceEN string, pctx types.ProviderContext) (types.SentenceAnalysis, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Gemini.ModelAnalysis
	timeout := secs(settings.Timeouts.AnalysisSeconds)

	text, err := p.generate(ctx, buildAnalysisPrompt(sentenceEN), model, timeout)
	if err == nil {
		if parsed, perr := extractJSONObject(text); perr == nil {
			if analysis, ok := parseAnalysis(parsed, sentenceEN); ok {
				if analysis.TranslationPT == "" {
					analysis.TranslationPT = p.translateSentence(ctx, analysis.OriginalEN, model, timeout)
				}
				return analysis, model, nil
			}
		}
	}
	if err != nil {
		if IsUnavailable(err) {
			return types.SentenceAnalysis{}, "", err
		}
		log.Printf("⚠️ [Gemini] 句子分析降级为朴素切词: %v", err)
	}

	// Graceful fallback when the analysis model returns malformed output or
	// times out: bare tokens plus a best-effort translation.
	return types.SentenceAnalysis{
		OriginalEN:    sentenceEN,
		TranslationPT: p.translateSentence(ctx, sentenceEN, model, timeout),
		Tokens:        naiveTokens(sentenceEN),
	}, model, nil
}

func (p *GeminiProvider) translateSentence(ctx context.Context, sentenceEN, model string, timeout time.Duration) string {
	translation, err := p.generate(ctx, buildTranslationPrompt(sentenceEN), model, timeout)
	if err != nil {
		log.Printf("⚠️ [Gemini] 翻译降级失败: %v", err)
		return ""
	}
	return strings.TrimSpace(translation)
}

func secs(n int) time.Duration {
	if n <= 0 {
		n = 10
	}
	return time.Duration(n) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
