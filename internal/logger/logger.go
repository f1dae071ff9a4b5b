package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation strategies.
const (
	RotationDaily = "daily"
	RotationSize  = "size"
)

// Config 日志配置
type Config struct {
	// 日志目录
	LogDir string
	// 日志文件名后缀（按日期轮转时 app.log → 20260105-app.log）
	LogFile string
	// 轮转策略: daily 或 size
	Rotation string
	// 单个日志文件最大大小 (MB)，仅 size 轮转使用
	MaxSize int
	// 保留的旧日志文件最大数量，仅 size 轮转使用
	MaxBackups int
	// 保留的旧日志文件最大天数
	MaxAge int
	// 是否压缩旧日志文件，仅 size 轮转使用
	Compress bool
	// 是否同时输出到控制台
	Console bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogDir:     "logs",
		LogFile:    "app.log",
		Rotation:   RotationDaily,
		MaxSize:    100, // 100MB
		MaxBackups: 10,
		MaxAge:     30, // 30 days
		Compress:   true,
		Console:    true,
	}
}

// DailyWriter 按日期轮转的日志写入器
type DailyWriter struct {
	mu          sync.Mutex
	logDir      string
	logSuffix   string // 文件名后缀，如 "app.log"
	maxAge      int    // 保留天数
	currentDate string // 当前日期 YYYYMMDD
	file        *os.File
}

// NewDailyWriter 创建按日期轮转的日志写入器
func NewDailyWriter(logDir, logSuffix string, maxAge int) *DailyWriter {
	return &DailyWriter{
		logDir:    logDir,
		logSuffix: logSuffix,
		maxAge:    maxAge,
	}
}

// getDateString 获取当前日期字符串 YYYYMMDD
func getDateString() string {
	return time.Now().Format("20060102")
}

// getFilename 根据日期生成文件名
func (w *DailyWriter) getFilename(date string) string {
	return filepath.Join(w.logDir, fmt.Sprintf("%s-%s", date, w.logSuffix))
}

// Write 实现 io.Writer 接口
func (w *DailyWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	currentDate := getDateString()

	// 检查是否需要轮转（日期变化或文件未打开）
	if w.file == nil || w.currentDate != currentDate {
		if err := w.rotate(currentDate); err != nil {
			return 0, err
		}
	}

	return w.file.Write(p)
}

// rotate 轮转到新的日志文件
func (w *DailyWriter) rotate(newDate string) error {
	if w.file != nil {
		w.file.Close()
	}

	filename := w.getFilename(newDate)
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	w.file = file
	w.currentDate = newDate
	return nil
}

// Close 关闭日志文件
func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Cleanup 清理过期的日志文件
func (w *DailyWriter) Cleanup() error {
	if w.maxAge <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -w.maxAge)
	cutoffDate := cutoff.Format("20060102")

	entries, err := os.ReadDir(w.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	var deleted int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		// 匹配格式: YYYYMMDD-suffix
		if !strings.HasSuffix(name, "-"+w.logSuffix) {
			continue
		}

		dateStr := strings.TrimSuffix(name, "-"+w.logSuffix)
		if len(dateStr) != 8 {
			continue
		}

		if dateStr < cutoffDate {
			path := filepath.Join(w.logDir, name)
			if err := os.Remove(path); err != nil {
				log.Printf("⚠️ 删除过期日志失败: %s: %v", path, err)
			} else {
				deleted++
			}
		}
	}

	if deleted > 0 {
		log.Printf("🗑️ 已清理 %d 个过期日志文件", deleted)
	}

	return nil
}

// Setup 初始化日志系统
func Setup(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// 确保日志目录存在
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	var fileWriter io.Writer
	switch cfg.Rotation {
	case RotationSize:
		fileWriter = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, cfg.LogFile),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	default:
		dailyWriter := NewDailyWriter(cfg.LogDir, cfg.LogFile, cfg.MaxAge)
		fileWriter = dailyWriter

		// 后台清理过期日志
		go func() {
			if err := dailyWriter.Cleanup(); err != nil {
				log.Printf("⚠️ 日志清理失败: %v", err)
			}

			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()

			for range ticker.C {
				if err := dailyWriter.Cleanup(); err != nil {
					log.Printf("⚠️ 日志清理失败: %v", err)
				}
			}
		}()
	}

	var writer io.Writer
	if cfg.Console {
		writer = io.MultiWriter(os.Stdout, fileWriter)
	} else {
		writer = fileWriter
	}

	log.SetOutput(writer)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("📝 日志系统已初始化")
	log.Printf("📊 轮转配置: %s, 保留 %d 天", cfg.Rotation, cfg.MaxAge)

	return nil
}
