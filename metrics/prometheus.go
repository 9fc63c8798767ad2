package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector Prometheus 指标收集器实现.
//
// nil 收集器上的所有记录方法都是空操作，组件可以在未配置指标时直接持有 nil.
type PrometheusCollector struct {
	config *Config

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Saga 指标
	sagasStarted        prometheus.Counter
	sagasFinished       *prometheus.CounterVec
	stepOutcomes        *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	versionConflicts    *prometheus.CounterVec
	compensationFailure *prometheus.CounterVec
	lateOutcomes        *prometheus.CounterVec

	// 消息指标
	messagesPublished *prometheus.CounterVec
	messagesConsumed  *prometheus.CounterVec
	consumeDuration   *prometheus.HistogramVec

	// 自定义指标注册表
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	mu         sync.RWMutex

	registry *prometheus.Registry
}

// NewPrometheus 创建 Prometheus 指标收集器.
func NewPrometheus(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg.ApplyDefaults()
	namespace := cfg.Namespace

	// 独立注册表，避免与默认注册表冲突
	registry := prometheus.NewRegistry()

	c := &PrometheusCollector{
		config:     cfg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		registry:   registry,
	}

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 5),
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 5),
		},
		[]string{"method", "path"},
	)

	c.sagasStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "started_total",
		Help:      "Total number of sagas started",
	})
	c.sagasFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "finished_total",
			Help:      "Total number of sagas reaching a terminal status",
		},
		[]string{"status"},
	)
	c.stepOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "step_outcomes_total",
			Help:      "Total number of step outcome events",
		},
		[]string{"step", "status", "compensation"},
	)
	c.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "handle_duration_seconds",
			Help:      "Step handler latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step"},
	)
	c.versionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "version_conflicts_total",
			Help:      "Total number of optimistic lock conflicts",
		},
		[]string{"operation"},
	)
	c.compensationFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "compensation_failures_total",
			Help:      "Total number of failed compensations requiring manual intervention",
		},
		[]string{"step"},
	)
	c.lateOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "late_outcomes_total",
			Help:      "Total number of forward successes arriving after the saga left the forward path",
		},
		[]string{"step"},
	)

	c.messagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "published_total",
			Help:      "Total number of published messages",
		},
		[]string{"topic", "result"},
	)
	c.messagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "consumed_total",
			Help:      "Total number of consumed messages",
		},
		[]string{"topic", "result"},
	)
	c.consumeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "consume_duration_seconds",
			Help:      "Message handler latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	collectors := []prometheus.Collector{
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.httpRequestSize,
		c.httpResponseSize,
		c.sagasStarted,
		c.sagasFinished,
		c.stepOutcomes,
		c.stepDuration,
		c.versionConflicts,
		c.compensationFailure,
		c.lateOutcomes,
		c.messagesPublished,
		c.messagesConsumed,
		c.consumeDuration,
	}
	if cfg.EnableRuntime {
		collectors = append(collectors,
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegisterMetric, err)
		}
	}

	return c, nil
}

// RecordHTTPRequest 记录 HTTP 请求指标.
func (c *PrometheusCollector) RecordHTTPRequest(method, path, statusCode string, duration time.Duration, requestSize, responseSize float64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(requestSize)
	c.httpResponseSize.WithLabelValues(method, path).Observe(responseSize)
}

// SagaStarted 记录新启动的 saga.
func (c *PrometheusCollector) SagaStarted() {
	if c == nil {
		return
	}
	c.sagasStarted.Inc()
}

// SagaFinished 记录进入终态的 saga.
func (c *PrometheusCollector) SagaFinished(status string) {
	if c == nil {
		return
	}
	c.sagasFinished.WithLabelValues(status).Inc()
}

// StepOutcome 记录步骤结果事件.
func (c *PrometheusCollector) StepOutcome(step, status string, compensation bool) {
	if c == nil {
		return
	}
	comp := "false"
	if compensation {
		comp = "true"
	}
	c.stepOutcomes.WithLabelValues(step, status, comp).Inc()
}

// StepDuration 记录步骤处理耗时.
func (c *PrometheusCollector) StepDuration(step string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// VersionConflict 记录乐观锁冲突.
func (c *PrometheusCollector) VersionConflict(operation string) {
	if c == nil {
		return
	}
	c.versionConflicts.WithLabelValues(operation).Inc()
}

// CompensationFailed 记录补偿失败.
func (c *PrometheusCollector) CompensationFailed(step string) {
	if c == nil {
		return
	}
	c.compensationFailure.WithLabelValues(step).Inc()
}

// LateOutcome 记录迟到的正向成功事件.
func (c *PrometheusCollector) LateOutcome(step string) {
	if c == nil {
		return
	}
	c.lateOutcomes.WithLabelValues(step).Inc()
}

// MessagePublished 记录消息发送结果.
func (c *PrometheusCollector) MessagePublished(topic string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.messagesPublished.WithLabelValues(topic, result).Inc()
}

// MessageConsumed 记录消息消费结果与耗时.
func (c *PrometheusCollector) MessageConsumed(topic, result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.messagesConsumed.WithLabelValues(topic, result).Inc()
	c.consumeDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// Counter 增加计数器.
//
// 使用示例:
//
//	collector.Counter("reaper_runs_total", map[string]string{"job": "expired"})
func (c *PrometheusCollector) Counter(name string, labels map[string]string) {
	if c == nil {
		return
	}
	labelNames, labelValues := extractLabels(labels)

	c.mu.RLock()
	counter, exists := c.counters[name]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		if counter, exists = c.counters[name]; !exists {
			counter = prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: c.config.Namespace,
					Name:      name,
					Help:      "Custom counter: " + name,
				},
				labelNames,
			)
			if err := c.registry.Register(counter); err == nil {
				c.counters[name] = counter
			} else {
				counter = nil
			}
		}
		c.mu.Unlock()
	}

	if counter != nil {
		counter.WithLabelValues(labelValues...).Inc()
	}
}

// Histogram 观察自定义直方图.
func (c *PrometheusCollector) Histogram(name string, value float64, labels map[string]string) {
	if c == nil {
		return
	}
	labelNames, labelValues := extractLabels(labels)

	c.mu.RLock()
	histogram, exists := c.histograms[name]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		if histogram, exists = c.histograms[name]; !exists {
			histogram = prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: c.config.Namespace,
					Name:      name,
					Help:      "Custom histogram: " + name,
					Buckets:   prometheus.DefBuckets,
				},
				labelNames,
			)
			if err := c.registry.Register(histogram); err == nil {
				c.histograms[name] = histogram
			} else {
				histogram = nil
			}
		}
		c.mu.Unlock()
	}

	if histogram != nil {
		histogram.WithLabelValues(labelValues...).Observe(value)
	}
}

// Gauge 设置自定义仪表盘.
//
// 使用示例:
//
//	collector.Gauge("sagas_expired", 3, map[string]string{"status": "IN_PROGRESS"})
func (c *PrometheusCollector) Gauge(name string, value float64, labels map[string]string) {
	if c == nil {
		return
	}
	labelNames, labelValues := extractLabels(labels)

	c.mu.RLock()
	gauge, exists := c.gauges[name]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		if gauge, exists = c.gauges[name]; !exists {
			gauge = prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: c.config.Namespace,
					Name:      name,
					Help:      "Custom gauge: " + name,
				},
				labelNames,
			)
			if err := c.registry.Register(gauge); err == nil {
				c.gauges[name] = gauge
			} else {
				gauge = nil
			}
		}
		c.mu.Unlock()
	}

	if gauge != nil {
		gauge.WithLabelValues(labelValues...).Set(value)
	}
}

// extractLabels 从 map 中提取 label 名称和值，按 key 排序保证顺序稳定.
func extractLabels(labels map[string]string) ([]string, []string) {
	labelNames := make([]string, 0, len(labels))
	for k := range labels {
		labelNames = append(labelNames, k)
	}
	sort.Strings(labelNames)

	labelValues := make([]string, 0, len(labels))
	for _, k := range labelNames {
		labelValues = append(labelValues, labels[k])
	}

	return labelNames, labelValues
}

// Registry 返回底层注册表.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// GetHandler 返回 metrics 的 HTTP 处理器.
func (c *PrometheusCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GetPath 返回 metrics 路径.
func (c *PrometheusCollector) GetPath() string {
	if c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}
