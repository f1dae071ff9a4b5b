package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// GeminiSettings Gemini 提供商配置
type GeminiSettings struct {
	ModelCorrection string `json:"modelCorrection"`
	ModelChat       string `json:"modelChat"`
	ModelAnalysis   string `json:"modelAnalysis"`
	// APIKey comes from the environment only, never from the JSON file.
	APIKey string `json:"-"`
}

// OllamaSettings 本地 Ollama 提供商配置
type OllamaSettings struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`
}

// CopilotSettings GitHub Copilot 提供商配置
type CopilotSettings struct {
	Enabled         bool   `json:"enabled"`
	TokenFile       string `json:"tokenFile"`
	CacheFile       string `json:"cacheFile"`
	ModelCorrection string `json:"modelCorrection"`
	ModelChat       string `json:"modelChat"`
	ModelAnalysis   string `json:"modelAnalysis"`
}

// TimeoutSettings per-operation upstream timeouts in seconds.
type TimeoutSettings struct {
	CorrectionSeconds int `json:"correctionSeconds"`
	ChatSeconds       int `json:"chatSeconds"`
	AnalysisSeconds   int `json:"analysisSeconds"`
}

// ProviderSettings 提供商聚合配置（支持热重载）
type ProviderSettings struct {
	DefaultProvider string          `json:"defaultProvider"`
	Gemini          GeminiSettings  `json:"gemini"`
	Ollama          OllamaSettings  `json:"ollama"`
	Copilot         CopilotSettings `json:"copilot"`
	Timeouts        TimeoutSettings `json:"timeouts"`
}

// DefaultProviderSettings returns the settings used when no JSON file exists.
func DefaultProviderSettings() ProviderSettings {
	return ProviderSettings{
		DefaultProvider: "gemini",
		Gemini: GeminiSettings{
			ModelCorrection: "gemini-2.0-flash",
			ModelChat:       "gemini-2.0-flash",
			ModelAnalysis:   "gemini-2.0-flash",
		},
		Ollama: OllamaSettings{
			Enabled: false,
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
		},
		Copilot: CopilotSettings{
			Enabled:         false,
			TokenFile:       ".config/copilot_oauth.json",
			CacheFile:       ".config/copilot_token_cache.json",
			ModelCorrection: "gpt-4o-mini",
			ModelChat:       "gpt-4o-mini",
			ModelAnalysis:   "gpt-4o-mini",
		},
		Timeouts: TimeoutSettings{
			CorrectionSeconds: 8,
			ChatSeconds:       12,
			AnalysisSeconds:   8,
		},
	}
}

// ProvidersManager 提供商配置管理器（JSON 文件 + fsnotify 热重载）
type ProvidersManager struct {
	mu         sync.RWMutex
	configFile string
	settings   ProviderSettings
	watcher    *fsnotify.Watcher
	onChange   func(ProviderSettings)
}

// NewProvidersManager loads (or creates) the JSON settings file and starts
// watching it for changes.
func NewProvidersManager(configFile string) (*ProvidersManager, error) {
	pm := &ProvidersManager{configFile: configFile}

	if err := pm.loadSettings(); err != nil {
		return nil, err
	}

	if err := pm.watchSettings(); err != nil {
		log.Printf("⚠️ [Providers] 配置文件监听启动失败（热重载不可用）: %v", err)
	}

	return pm, nil
}

// GetSettings returns a copy of the current settings.
func (pm *ProvidersManager) GetSettings() ProviderSettings {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.settings
}

// DefaultProvider returns the configured system default provider name.
func (pm *ProvidersManager) DefaultProvider() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.settings.DefaultProvider
}

// SetOnChange registers a callback fired after each successful reload.
func (pm *ProvidersManager) SetOnChange(fn func(ProviderSettings)) {
	pm.mu.Lock()
	pm.onChange = fn
	pm.mu.Unlock()
}

// Reload re-reads the settings file on demand (admin endpoint).
func (pm *ProvidersManager) Reload() error {
	return pm.loadSettings()
}

// Close stops the file watcher.
func (pm *ProvidersManager) Close() error {
	if pm.watcher != nil {
		return pm.watcher.Close()
	}
	return nil
}

func (pm *ProvidersManager) loadSettings() error {
	settings := DefaultProviderSettings()

	data, err := os.ReadFile(pm.configFile)
	switch {
	case os.IsNotExist(err):
		// First run: persist the defaults so operators have a file to edit.
		if writeErr := pm.writeSettings(settings); writeErr != nil {
			log.Printf("⚠️ [Providers] 默认配置写入失败: %v", writeErr)
		}
	case err != nil:
		return fmt.Errorf("read provider settings: %w", err)
	default:
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("parse provider settings: %w", err)
		}
	}

	// Secrets stay in the environment.
	settings.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	if settings.DefaultProvider == "" {
		settings.DefaultProvider = "gemini"
	}

	pm.mu.Lock()
	pm.settings = settings
	onChange := pm.onChange
	pm.mu.Unlock()

	if onChange != nil {
		onChange(settings)
	}
	return nil
}

func (pm *ProvidersManager) writeSettings(settings ProviderSettings) error {
	if err := os.MkdirAll(filepath.Dir(pm.configFile), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(pm.configFile, data, 0644)
}

func (pm *ProvidersManager) watchSettings() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	pm.watcher = watcher

	go func() {
		var reloadTimer *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					// Debounce: editors fire several events per save.
					if reloadTimer != nil {
						reloadTimer.Stop()
					}
					reloadTimer = time.AfterFunc(200*time.Millisecond, func() {
						log.Printf("🔄 [Providers] 检测到配置文件变化，重载配置...")
						if err := pm.loadSettings(); err != nil {
							log.Printf("⚠️ [Providers] 配置重载失败: %v", err)
						} else {
							log.Printf("✅ [Providers] 配置已重载")
						}
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [Providers] 配置文件监听错误: %v", err)
			}
		}
	}()

	return watcher.Add(filepath.Dir(pm.configFile))
}
