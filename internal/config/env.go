package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvConfig 环境变量配置
type EnvConfig struct {
	Port int
	Env  string

	TrustedProxies []string
	EnableCORS     bool
	CORSOrigin     string

	// 按端点的 IP 速率限制（每分钟请求数）
	EnableRateLimit   bool
	RateLimitAuth     int
	RateLimitChat     int
	RateLimitAnalysis int
	RateLimitLookup   int
	RateLimitWindow   int // seconds

	HealthCheckPath string

	// 日志文件相关配置
	LogDir        string
	LogFile       string
	LogRotation   string // "daily" or "size"
	LogMaxSize    int    // 单个日志文件最大大小 (MB)，size 轮转使用
	LogMaxBackups int
	LogMaxAge     int // 保留天数
	LogCompress   bool
	LogToConsole  bool
}

// NewEnvConfig 创建环境配置
func NewEnvConfig() *EnvConfig {
	env := getEnv("ENV", "development")

	return &EnvConfig{
		Port: getEnvAsInt("PORT", 8000),
		Env:  env,

		TrustedProxies: splitNonEmpty(getEnv("TRUSTED_PROXIES", "")),
		EnableCORS:     getEnv("ENABLE_CORS", "true") != "false",
		CORSOrigin:     getEnv("CORS_ORIGIN", "http://localhost:3000"),

		EnableRateLimit:   getEnv("ENABLE_RATE_LIMIT", "true") != "false",
		RateLimitAuth:     getEnvAsInt("RATE_LIMIT_AUTH", 12),
		RateLimitChat:     getEnvAsInt("RATE_LIMIT_CHAT", 30),
		RateLimitAnalysis: getEnvAsInt("RATE_LIMIT_ANALYSIS", 30),
		RateLimitLookup:   getEnvAsInt("RATE_LIMIT_LOOKUP", 60),
		RateLimitWindow:   getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),

		HealthCheckPath: getEnv("HEALTH_CHECK_PATH", "/health"),

		LogDir:        getEnv("LOG_DIR", "logs"),
		LogFile:       getEnv("LOG_FILE", "mentor.log"),
		LogRotation:   getEnv("LOG_ROTATION", "daily"),
		LogMaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 10),
		LogMaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnv("LOG_COMPRESS", "true") != "false",
		LogToConsole:  getEnv("LOG_TO_CONSOLE", "true") != "false",
	}
}

// IsDevelopment 是否为开发环境
func (c *EnvConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction 是否为生产环境
func (c *EnvConfig) IsProduction() bool {
	return c.Env == "production"
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 获取环境变量并转换为整数
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
