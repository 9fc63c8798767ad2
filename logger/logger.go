// Package logger 提供结构化日志记录功能.
package logger

import (
	"context"
	"time"
)

// 日志级别常量.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// 输出格式常量.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// 输出目标常量.
const (
	OutputConsole = "console"
	OutputFile    = "file"
	OutputBoth    = "both"
)

type contextKey string

// CorrelationIDKey 用于在 context 中存储 correlationId.
const CorrelationIDKey contextKey = "logger:correlationId"

// Field 表示一个日志字段.
type Field struct {
	Key   string
	Value any
}

// Logger 日志记录器接口.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)

	// With 返回带有附加字段的 logger.
	With(fields ...Field) Logger
	// WithContext 返回带有 trace 与 correlation 信息的 logger.
	WithContext(ctx context.Context) Logger

	Sync() error
	Close() error
}

// ContextWithCorrelationID 将 correlationId 注入到 context.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// CorrelationIDFromContext 从 context 读取 correlationId.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}

// NewLogger 创建 logger 实例.
func NewLogger(config *Config) (Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	return newZapLogger(config)
}

// String 创建字符串字段.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int 创建整数字段.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 创建 int64 字段.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool 创建布尔字段.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration 创建持续时间字段.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err 创建错误字段.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any 创建任意类型字段.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// SagaID saga 标识字段，orchestrator、step worker 与存储层统一使用该键.
func SagaID(id string) Field {
	return Field{Key: "sagaId", Value: id}
}

// Step saga 步骤字段.
func Step(step string) Field {
	return Field{Key: "step", Value: step}
}
