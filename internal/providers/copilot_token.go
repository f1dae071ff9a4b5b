package providers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const copilotTokenURL = "https://api.github.com/copilot_internal/v2/token"

// expirySlack 提前视为过期的时间，避免在请求途中 token 刚好失效
const expirySlack = 60 * time.Second

// CopilotTokenManager exchanges a long-lived GitHub OAuth token for the
// short-lived Copilot API token and caches it on disk across restarts.
//
// OAuth token 来源: ~/.config/github-copilot/apps.json (VSCode 登录产生)
// 或 GITHUB_OAUTH_TOKEN 环境变量。
type CopilotTokenManager struct {
	mu        sync.Mutex
	tokenFile string
	cacheFile string
	client    *http.Client

	token     string
	expiresAt time.Time
}

// NewCopilotTokenManager creates a token manager. tokenFile is the OAuth
// apps.json location, cacheFile is where the exchanged token is cached.
func NewCopilotTokenManager(tokenFile, cacheFile string) *CopilotTokenManager {
	return &CopilotTokenManager{
		tokenFile: tokenFile,
		cacheFile: cacheFile,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns a valid Copilot API token, exchanging a new one when the
// cached token is missing or about to expire.
func (m *CopilotTokenManager) Token(ctx context.Context) (string, error) {
	return m.tokenWith(ctx, false)
}

// ForceRefresh discards any cached token and exchanges a fresh one. Used
// after an upstream 401.
func (m *CopilotTokenManager) ForceRefresh(ctx context.Context) (string, error) {
	return m.tokenWith(ctx, true)
}

func (m *CopilotTokenManager) tokenWith(ctx context.Context, force bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force {
		if m.token != "" && time.Now().Before(m.expiresAt.Add(-expirySlack)) {
			return m.token, nil
		}
		if m.loadCacheLocked() {
			return m.token, nil
		}
	}

	oauth, err := m.readOAuthToken()
	if err != nil {
		return "", err
	}

	token, expiresAt, err := m.exchange(ctx, oauth)
	if err != nil {
		return "", err
	}

	m.token = token
	m.expiresAt = expiresAt
	m.saveCacheLocked()
	log.Printf("🔑 [Copilot] Token exchanged, expires at %s", expiresAt.Format(time.RFC3339))
	return token, nil
}

// readOAuthToken 读取 GitHub OAuth token，环境变量优先
func (m *CopilotTokenManager) readOAuthToken() (string, error) {
	if env := strings.TrimSpace(os.Getenv("GITHUB_OAUTH_TOKEN")); env != "" {
		return env, nil
	}

	data, err := os.ReadFile(m.tokenFile)
	if err != nil {
		return "", fmt.Errorf("copilot oauth token not found (set GITHUB_OAUTH_TOKEN or sign in via an editor): %w", err)
	}

	// apps.json maps "github.com:<client>" entries to {oauth_token: ...};
	// take the first entry that has one.
	var oauth string
	gjson.ParseBytes(data).ForEach(func(_, value gjson.Result) bool {
		if t := value.Get("oauth_token").String(); t != "" {
			oauth = t
			return false
		}
		return true
	})
	if oauth == "" {
		return "", fmt.Errorf("no oauth_token entry in %s", m.tokenFile)
	}
	return oauth, nil
}

func (m *CopilotTokenManager) exchange(ctx context.Context, oauth string) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, copilotTokenURL, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "token "+oauth)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "GithubCopilot/1.155.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("copilot token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("copilot token exchange status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return "", time.Time{}, fmt.Errorf("copilot token exchange returned no token")
	}
	expiresAt := time.Unix(gjson.GetBytes(body, "expires_at").Int(), 0)
	if expiresAt.IsZero() || expiresAt.Unix() == 0 {
		expiresAt = time.Now().Add(25 * time.Minute)
	}
	return token, expiresAt, nil
}

// loadCacheLocked restores a still-valid token from the disk cache.
func (m *CopilotTokenManager) loadCacheLocked() bool {
	if m.cacheFile == "" {
		return false
	}
	data, err := os.ReadFile(m.cacheFile)
	if err != nil {
		return false
	}
	token := gjson.GetBytes(data, "token").String()
	expiresAt := time.UnixMilli(gjson.GetBytes(data, "expires_at_ms").Int())
	if token == "" || !time.Now().Before(expiresAt.Add(-expirySlack)) {
		return false
	}
	m.token = token
	m.expiresAt = expiresAt
	return true
}

func (m *CopilotTokenManager) saveCacheLocked() {
	if m.cacheFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.cacheFile), 0o755); err != nil {
		log.Printf("⚠️ [Copilot] Token cache dir create failed: %v", err)
		return
	}
	body, _ := sjson.Set("", "token", m.token)
	body, _ = sjson.Set(body, "expires_at_ms", m.expiresAt.UnixMilli())
	if err := os.WriteFile(m.cacheFile, []byte(body), 0o600); err != nil {
		log.Printf("⚠️ [Copilot] Token cache write failed: %v", err)
	}
}
