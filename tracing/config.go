package tracing

import "errors"

var (
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("tracing: config is nil")
	// ErrEmptyServiceName 服务名为空.
	ErrEmptyServiceName = errors.New("tracing: service name is empty")
	// ErrEmptyEndpoint OTLP 端点为空.
	ErrEmptyEndpoint = errors.New("tracing: otlp endpoint is empty")
	// ErrSamplingRate 采样率不在 (0,1] 内.
	ErrSamplingRate = errors.New("tracing: sampling rate must be in (0, 1]")
	// ErrCreateExporter 创建导出器失败.
	ErrCreateExporter = errors.New("tracing: failed to create exporter")
)

// Config 链路追踪配置.
//
// 未启用时只安装 W3C 传播器，saga 事件头中的 traceparent 依然透传.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// SamplingRate 根 span 采样率，零值按 1.0 处理
	SamplingRate float64 `mapstructure:"sampling_rate"`
	// Endpoint OTLP/HTTP 地址，可带 http:// 或 https:// 前缀
	Endpoint string            `mapstructure:"endpoint"`
	Headers  map[string]string `mapstructure:"headers"`
}

// ApplyDefaults 填充零值字段.
func (c *Config) ApplyDefaults() {
	if c.SamplingRate == 0 {
		c.SamplingRate = 1
	}
}

// Validate 校验配置.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return ErrEmptyEndpoint
	}
	if c.SamplingRate <= 0 || c.SamplingRate > 1 {
		return ErrSamplingRate
	}
	return nil
}
