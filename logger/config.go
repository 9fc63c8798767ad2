package logger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config 日志配置.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format      string `mapstructure:"format" validate:"omitempty,oneof=json console"`

	// Output 为 file 或 both 时写入 LogDir/<service_name>.log
	Output string `mapstructure:"output" validate:"omitempty,oneof=console file both"`
	LogDir string `mapstructure:"log_dir" validate:"required_if=Output file,required_if=Output both"`

	EnableCaller     bool `mapstructure:"enable_caller"`
	EnableStacktrace bool `mapstructure:"enable_stacktrace"`
}

// ConfigError 配置错误.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("logger config error [%s]: %s", e.Field, e.Message)
}

var configValidator = validator.New()

// Validate 验证配置，枚举字段不区分大小写.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Field: "config", Message: "config cannot be nil"}
	}
	normalized := *c
	normalized.normalize()

	err := configValidator.Struct(&normalized)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	if fe.Field() == "LogDir" {
		field = "log_dir"
	}
	return &ConfigError{Field: field, Message: fmt.Sprintf("invalid value %q (%s)", fe.Value(), fe.Tag())}
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	c.normalize()
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.Output == "" {
		c.Output = OutputConsole
	}
	if c.ServiceName == "" {
		c.ServiceName = "checkout"
	}
}

func (c *Config) normalize() {
	c.Level = strings.ToLower(c.Level)
	c.Format = strings.ToLower(c.Format)
	c.Output = strings.ToLower(c.Output)
}

func (c *Config) toFile() bool {
	return c.Output == OutputFile || c.Output == OutputBoth
}

func (c *Config) toConsole() bool {
	return c.Output == OutputConsole || c.Output == OutputBoth
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	config := &Config{}
	config.ApplyDefaults()
	return config
}

// NewDevConfig 返回开发环境配置.
func NewDevConfig() *Config {
	return &Config{
		Level:        LevelDebug,
		Format:       FormatConsole,
		Output:       OutputConsole,
		EnableCaller: true,
	}
}
