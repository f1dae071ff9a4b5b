package metrics

import (
	"sync"
	"time"
)

// BackendMetrics 单个 AI 后端的调度指标
type BackendMetrics struct {
	Backend       string     `json:"backend"`
	RequestCount  int64      `json:"requestCount"`
	SuccessCount  int64      `json:"successCount"`
	FailureCount  int64      `json:"failureCount"`
	Consecutive   int64      `json:"consecutiveFailures"`
	FailureRate   float64    `json:"failureRate"` // 基于滑动窗口
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
}

type backendState struct {
	requestCount int64
	successCount int64
	failureCount int64
	consecutive  int64
	lastSuccess  *time.Time
	lastFailure  *time.Time
	// 滑动窗口记录（最近 N 次请求的结果, true=success）
	recentResults []bool
}

// Manager 按后端名聚合调度结果
type Manager struct {
	mu         sync.RWMutex
	backends   map[string]*backendState
	windowSize int
}

const defaultWindowSize = 10

// NewManager 创建指标管理器
func NewManager() *Manager {
	return NewManagerWithWindow(defaultWindowSize)
}

// NewManagerWithWindow 创建带窗口大小的指标管理器
func NewManagerWithWindow(windowSize int) *Manager {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Manager{
		backends:   make(map[string]*backendState),
		windowSize: windowSize,
	}
}

func (m *Manager) stateLocked(backend string) *backendState {
	s, ok := m.backends[backend]
	if !ok {
		s = &backendState{recentResults: make([]bool, 0, m.windowSize)}
		m.backends[backend] = s
	}
	return s
}

func (m *Manager) record(backend string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stateLocked(backend)
	s.requestCount++
	now := time.Now()
	if success {
		s.successCount++
		s.consecutive = 0
		s.lastSuccess = &now
	} else {
		s.failureCount++
		s.consecutive++
		s.lastFailure = &now
	}

	s.recentResults = append(s.recentResults, success)
	if len(s.recentResults) > m.windowSize {
		s.recentResults = s.recentResults[len(s.recentResults)-m.windowSize:]
	}
}

// RecordSuccess 记录一次成功调度
func (m *Manager) RecordSuccess(backend string) { m.record(backend, true) }

// RecordFailure 记录一次失败调度
func (m *Manager) RecordFailure(backend string) { m.record(backend, false) }

// FailureRate 返回滑动窗口内的失败率，无记录时为 0
func (m *Manager) FailureRate(backend string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.backends[backend]
	if !ok || len(s.recentResults) == 0 {
		return 0
	}
	failures := 0
	for _, success := range s.recentResults {
		if !success {
			failures++
		}
	}
	return float64(failures) / float64(len(s.recentResults))
}

// WindowSize 返回滑动窗口大小
func (m *Manager) WindowSize() int {
	return m.windowSize
}

// Snapshot 返回所有后端的指标快照
func (m *Manager) Snapshot() map[string]BackendMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]BackendMetrics, len(m.backends))
	for name, s := range m.backends {
		bm := BackendMetrics{
			Backend:       name,
			RequestCount:  s.requestCount,
			SuccessCount:  s.successCount,
			FailureCount:  s.failureCount,
			Consecutive:   s.consecutive,
			LastSuccessAt: s.lastSuccess,
			LastFailureAt: s.lastFailure,
		}
		if n := len(s.recentResults); n > 0 {
			failures := 0
			for _, success := range s.recentResults {
				if !success {
					failures++
				}
			}
			bm.FailureRate = float64(failures) / float64(n)
		}
		out[name] = bm
	}
	return out
}
