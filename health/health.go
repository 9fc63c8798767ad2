// Package health 提供存活与就绪检查.
//
// 就绪检查并发执行所有检查器，任一检查器 DOWN 时整体 DOWN.
package health

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Status 健康状态.
type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "UNKNOWN"
)

// CheckResult 单个检查器的结果.
type CheckResult struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Duration time.Duration `json:"-"`
}

// MarshalJSON 将耗时编码为可读字符串.
func (r CheckResult) MarshalJSON() ([]byte, error) {
	type alias CheckResult
	return json.Marshal(&struct {
		alias
		Duration string `json:"duration,omitempty"`
	}{alias: alias(r), Duration: r.Duration.String()})
}

// Report 一次检查的汇总.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker 健康检查器.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Option 配置选项.
type Option func(*Health)

// WithTimeout 设置单次检查超时.
func WithTimeout(d time.Duration) Option {
	return func(h *Health) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithChecker 添加就绪检查器.
func WithChecker(checkers ...Checker) Option {
	return func(h *Health) {
		h.checkers = append(h.checkers, checkers...)
	}
}

// Health 健康检查管理器.
type Health struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	now      func() time.Time
	draining atomic.Bool
}

// New 创建健康检查管理器.
func New(opts ...Option) *Health {
	h := &Health{timeout: 3 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add 动态添加就绪检查器.
func (h *Health) Add(checkers ...Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checkers...)
}

// Drain 进入排空状态，之后 Readiness 始终返回 DOWN，用于关闭前摘除流量.
func (h *Health) Drain() {
	h.draining.Store(true)
}

// Liveness 进程存活即返回 UP.
func (h *Health) Liveness(context.Context) Report {
	return Report{Status: StatusUp, Timestamp: h.now()}
}

// Readiness 执行所有就绪检查器.
func (h *Health) Readiness(ctx context.Context) Report {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	report := Report{Status: StatusUp, Timestamp: h.now()}
	if h.draining.Load() {
		report.Status = StatusDown
		report.Checks = map[string]CheckResult{
			"lifecycle": {Status: StatusDown, Kind: "process", Message: "draining"},
		}
		return report
	}
	if len(checkers) == 0 {
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	report.Checks = make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			result := c.Check(ctx)
			result.Duration = time.Since(start)

			mu.Lock()
			report.Checks[c.Name()] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, r := range report.Checks {
		switch r.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusUnknown:
			if report.Status == StatusUp {
				report.Status = StatusUnknown
			}
		}
	}
	return report
}
