// Package metrics 提供 Prometheus 指标收集功能.
//
// 除了 HTTP 指标外，收集器预置了 saga 编排、步骤处理与消息总线相关的指标，
// 同时支持按名称动态创建的自定义 Counter/Histogram/Gauge.
package metrics

import (
	"net/http"
	"time"
)

// Collector 指标收集器接口.
type Collector interface {
	// HTTP 指标
	RecordHTTPRequest(method, path, statusCode string, duration time.Duration, requestSize, responseSize float64)

	// Saga 指标
	SagaStarted()
	SagaFinished(status string)
	StepOutcome(step, status string, compensation bool)
	StepDuration(step string, duration time.Duration)
	VersionConflict(operation string)
	CompensationFailed(step string)
	LateOutcome(step string)

	// 消息指标
	MessagePublished(topic string, err error)
	MessageConsumed(topic, result string, duration time.Duration)

	// 自定义指标
	Counter(name string, labels map[string]string)
	Histogram(name string, value float64, labels map[string]string)
	Gauge(name string, value float64, labels map[string]string)

	// Handler
	GetHandler() http.Handler
	GetPath() string
}

var _ Collector = (*PrometheusCollector)(nil)

// NewMetrics 创建指标收集器.
func NewMetrics(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	return NewPrometheus(cfg)
}

// MustNewMetrics 创建指标收集器，失败时 panic.
func MustNewMetrics(cfg *Config) *PrometheusCollector {
	c, err := NewMetrics(cfg)
	if err != nil {
		panic(err)
	}
	return c
}
