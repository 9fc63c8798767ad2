package metrics

// Config 指标监控配置.
type Config struct {
	// Path 指标暴露路径，默认 /metrics
	Path string `json:"path" yaml:"path" mapstructure:"path"`
	// Namespace 指标命名空间
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	// EnableRuntime 是否注册 Go 运行时与进程指标
	EnableRuntime bool `json:"enable_runtime" yaml:"enable_runtime" mapstructure:"enable_runtime"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		Path:          "/metrics",
		Namespace:     "checkout",
		EnableRuntime: true,
	}
}

// ApplyDefaults 填充默认值.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "checkout"
	}
}
