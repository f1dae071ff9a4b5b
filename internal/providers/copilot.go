package providers

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pwviptbl/AI-English-Mentor/internal/config"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

const copilotChatURL = "https://api.githubcopilot.com/chat/completions"

// CopilotProvider GitHub Copilot 提供商（走 chat/completions 接口）
type CopilotProvider struct {
	cfg    *config.ProvidersManager
	tokens *CopilotTokenManager
	client *http.Client
}

// NewCopilotProvider creates a Copilot provider using the token manager
// configured through the provider settings.
func NewCopilotProvider(cfg *config.ProvidersManager) *CopilotProvider {
	settings := cfg.GetSettings().Copilot
	return &CopilotProvider{
		cfg:    cfg,
		tokens: NewCopilotTokenManager(settings.TokenFile, settings.CacheFile),
		client: &http.Client{},
	}
}

func (p *CopilotProvider) Name() string { return "copilot" }

func (p *CopilotProvider) IsAvailable() bool {
	settings := p.cfg.GetSettings().Copilot
	if !settings.Enabled {
		return false
	}
	if strings.TrimSpace(os.Getenv("GITHUB_OAUTH_TOKEN")) != "" {
		return true
	}
	_, err := os.Stat(settings.TokenFile)
	return err == nil
}

// chat posts a system+user message pair to chat/completions. A 401 forces
// one token refresh and a single retry.
func (p *CopilotProvider) chat(ctx context.Context, model, system, user string, stream bool) (*http.Response, error) {
	if !p.cfg.GetSettings().Copilot.Enabled {
		return nil, unavailable(p.Name(), "provider disabled in settings")
	}

	body, _ := sjson.Set("", "model", model)
	body, _ = sjson.Set(body, "messages.0.role", "system")
	body, _ = sjson.Set(body, "messages.0.content", system)
	body, _ = sjson.Set(body, "messages.1.role", "user")
	body, _ = sjson.Set(body, "messages.1.content", user)
	body, _ = sjson.Set(body, "temperature", 0.2)
	body, _ = sjson.Set(body, "stream", stream)

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, unavailable(p.Name(), err.Error())
	}

	resp, err := p.post(ctx, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		token, err = p.tokens.ForceRefresh(ctx)
		if err != nil {
			return nil, unavailable(p.Name(), err.Error())
		}
		resp, err = p.post(ctx, body, token)
		if err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, requestFailedf(p.Name(), "status=%d body=%s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return resp, nil
}

func (p *CopilotProvider) post(ctx context.Context, body, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, copilotChatURL, strings.NewReader(body))
	if err != nil {
		return nil, requestFailed(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Copilot-Integration-Id", "vscode-chat")
	req.Header.Set("Editor-Version", "vscode/1.95.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, requestFailed(p.Name(), err)
	}
	return resp, nil
}

// chatText runs a non-streaming completion and returns the message content.
func (p *CopilotProvider) chatText(ctx context.Context, model, system, user string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.chat(ctx, model, system, user, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", requestFailed(p.Name(), err)
	}
	text := strings.TrimSpace(gjson.GetBytes(respBody, "choices.0.message.content").String())
	if text == "" {
		return "", requestFailedf(p.Name(), "empty completion")
	}
	return text, nil
}

func (p *CopilotProvider) CorrectInput(ctx context.Context, rawText string, pctx types.ProviderContext) (types.CorrectionResult, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Copilot.ModelCorrection

	text, err := p.chatText(ctx, model, "You are a precise English grammar checker. Respond with JSON only.", buildCorrectionPrompt(rawText), secs(settings.Timeouts.CorrectionSeconds))
	if err != nil {
		return types.CorrectionResult{}, "", err
	}
	parsed, err := extractJSONObject(text)
	if err != nil {
		return types.CorrectionResult{}, "", requestFailed(p.Name(), err)
	}
	return parseCorrection(parsed, rawText), model, nil
}

func (p *CopilotProvider) GenerateReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (types.ChatResult, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Copilot.ModelChat

	text, err := p.chatText(ctx, model, personaOrDefault(pctx), buildReplyPrompt(correctedText, history, pctx), secs(settings.Timeouts.ChatSeconds))
	if err != nil {
		return types.ChatResult{}, "", err
	}
	return types.ChatResult{Reply: text}, model, nil
}

// StreamReply 走 SSE 流，分片在 choices.0.delta.content
func (p *CopilotProvider) StreamReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (<-chan string, <-chan error, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Copilot.ModelChat

	resp, err := p.chat(ctx, model, personaOrDefault(pctx), buildReplyPrompt(correctedText, history, pctx), true)
	if err != nil {
		return nil, nil, "", err
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
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}
			if token := gjson.Get(payload, "choices.0.delta.content").String(); token != "" {
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

func (p *CopilotProvider) AnalyzeSentence(ctx context.Context, sentenceEN string, pctx types.ProviderContext) (types.SentenceAnalysis, string, error) {
	settings := p.cfg.GetSettings()
	model := settings.Copilot.ModelAnalysis

	text, err := p.chatText(ctx, model, "You are an English linguistics assistant. Respond with JSON only.", buildAnalysisPrompt(sentenceEN), secs(settings.Timeouts.AnalysisSeconds))
	if err != nil {
		return types.SentenceAnalysis{}, "", err
	}
	parsed, err := extractJSONObject(text)
	if err != nil {
		return types.SentenceAnalysis{}, "", requestFailed(p.Name(), err)
	}
	analysis, ok := parseAnalysis(parsed, sentenceEN)
	if !ok {
		analysis.Tokens = naiveTokens(sentenceEN)
	}
	return analysis, model, nil
}
