package providers

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pwviptbl/AI-English-Mentor/internal/config"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// OllamaProvider 本地 Ollama 提供商（免费，需要 ENABLE 显式开启）
//
// Setup: install Ollama, `ollama pull llama3.2`, then enable it in the
// providers settings file.
type OllamaProvider struct {
	cfg    *config.ProvidersManager
	client *http.Client
}

// NewOllamaProvider creates an Ollama provider over the local daemon.
func NewOllamaProvider(cfg *config.ProvidersManager) *OllamaProvider {
	return &OllamaProvider{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) IsAvailable() bool {
	return p.cfg.GetSettings().Ollama.Enabled
}

// generate calls the Ollama /api/generate endpoint in non-streaming mode.
func (p *OllamaProvider) generate(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	settings := p.cfg.GetSettings().Ollama
	if !settings.Enabled {
		return "", unavailable(p.Name(), "provider disabled in settings")
	}

	url := strings.TrimSuffix(settings.BaseURL, "/") + "/api/generate"

	body, _ := sjson.Set("", "model", settings.Model)
	body, _ = sjson.Set(body, "prompt", prompt)
	body, _ = sjson.Set(body, "stream", false)
	body, _ = sjson.Set(body, "options.temperature", 0.2)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", requestFailed(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", requestFailedf(p.Name(), "ollama not reachable at %s: %v", settings.BaseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", requestFailed(p.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", requestFailedf(p.Name(), "status=%d body=%s", resp.StatusCode, truncate(string(respBody), 200))
	}

	text := strings.TrimSpace(gjson.GetBytes(respBody, "response").String())
	if text == "" {
		return "", requestFailedf(p.Name(), "empty response")
	}
	return text, nil
}

func (p *OllamaProvider) CorrectInput(ctx context.Context, rawText string, pctx types.ProviderContext) (types.CorrectionResult, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Ollama.Model

	text, err := p.generate(ctx, buildCorrectionPrompt(rawText), secs(settings.Timeouts.CorrectionSeconds))
	if err != nil {
		return types.CorrectionResult{}, "", err
	}
	parsed, err := extractJSONObject(text)
	if err != nil {
		return types.CorrectionResult{}, "", requestFailed(p.Name(), err)
	}
	return parseCorrection(parsed, rawText), model, nil
}

func (p *OllamaProvider) GenerateReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (types.ChatResult, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Ollama.Model

	text, err := p.generate(ctx, buildReplyPrompt(correctedText, history, pctx), secs(settings.Timeouts.ChatSeconds))
	if err != nil {
		return types.ChatResult{}, "", err
	}
	return types.ChatResult{Reply: strings.TrimSpace(text)}, model, nil
}

// StreamReply 通过 /api/generate 流模式产生回复分片（每行一个 JSON 对象）
func (p *OllamaProvider) StreamReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (<-chan string, <-chan error, string, error) {
	settings := p.cfg.GetSettings()
	if !settings.Ollama.Enabled {
		return nil, nil, "", unavailable(p.Name(), "provider disabled in settings")
	}
	model := settings.Ollama.Model

	url := strings.TrimSuffix(settings.Ollama.BaseURL, "/") + "/api/generate"

	body, _ := sjson.Set("", "model", model)
	body, _ = sjson.Set(body, "prompt", buildReplyPrompt(correctedText, history, pctx))
	body, _ = sjson.Set(body, "stream", true)
	body, _ = sjson.Set(body, "options.temperature", 0.2)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, nil, "", requestFailed(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, "", requestFailedf(p.Name(), "ollama not reachable at %s: %v", settings.Ollama.BaseURL, err)
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
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !gjson.Valid(line) {
				continue
			}
			if token := gjson.Get(line, "response").String(); token != "" {
				select {
				case chunkChan <- token:
				case <-ctx.Done():
					return
				}
			}
			if gjson.Get(line, "done").Bool() {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errChan <- requestFailed(p.Name(), err)
		}
	}()

	return chunkChan, errChan, model, nil
}

func (p *OllamaProvider) AnalyzeSentence(ctx context.Context, sentenceEN string, pctx types.ProviderContext) (types.SentenceAnalysis, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Ollama.Model

	text, err := p.generate(ctx, buildAnalysisPrompt(sentenceEN), secs(settings.Timeouts.AnalysisSeconds))
	if err != nil {
		return types.SentenceAnalysis{}, "", err
	}

	parsed, err := extractJSONObject(text)
	if err != nil {
		return types.SentenceAnalysis{}, "", requestFailed(p.Name(), err)
	}
	analysis, ok := parseAnalysis(parsed, sentenceEN)
	if !ok {
		// Local models miss the schema more often; degrade to bare tokens.
		analysis.Tokens = naiveTokens(sentenceEN)
	}
	return analysis, model, nil
}
