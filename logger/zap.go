package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger zap 日志实现.
type zapLogger struct {
	logger  *zap.Logger
	sugar   *zap.SugaredLogger
	closers []func()
}

func newZapLogger(config *Config) (Logger, error) {
	level := parseLevel(config.Level)
	encoder := buildEncoder(config)

	var (
		cores   []zapcore.Core
		closers []func()
	)

	if config.toFile() {
		if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
			return nil, &ConfigError{Field: "log_dir", Message: "failed to create log directory: " + err.Error()}
		}
		sink, closeFn, err := zap.Open(filepath.Join(config.LogDir, config.ServiceName+".log"))
		if err != nil {
			return nil, &ConfigError{Field: "log_dir", Message: "failed to open log file: " + err.Error()}
		}
		closers = append(closers, closeFn)
		cores = append(cores, zapcore.NewCore(encoder, sink, level))
	}

	if config.toConsole() {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	}

	var options []zap.Option
	if config.EnableCaller {
		options = append(options, zap.AddCaller())
	}
	if config.EnableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zapLog := zap.New(zapcore.NewTee(cores...), options...).
		With(zap.String("service", config.ServiceName))

	return &zapLogger{
		logger:  zapLog,
		sugar:   zapLog.Sugar(),
		closers: closers,
	}, nil
}

// NewNop 创建不输出任何内容的 logger.
func NewNop() Logger {
	zapLog := zap.NewNop()
	return &zapLogger{logger: zapLog, sugar: zapLog.Sugar()}
}

func buildEncoder(config *Config) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = datetimeEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder

	if strings.EqualFold(config.Format, FormatConsole) {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeDuration = zapcore.StringDurationEncoder
		cfg.ConsoleSeparator = "\t"
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func datetimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn, "warning":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *zapLogger) Debug(args ...any)                 { z.sugar.Debug(args...) }
func (z *zapLogger) Debugf(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Info(args ...any)                  { z.sugar.Info(args...) }
func (z *zapLogger) Infof(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warn(args ...any)                  { z.sugar.Warn(args...) }
func (z *zapLogger) Warnf(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Error(args ...any)                 { z.sugar.Error(args...) }
func (z *zapLogger) Errorf(format string, args ...any) { z.sugar.Errorf(format, args...) }

// With 返回带有附加字段的 logger.
func (z *zapLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	zapFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		zapFields[i] = toZapField(f)
	}

	newLogger := z.logger.With(zapFields...)
	return &zapLogger{
		logger:  newLogger,
		sugar:   newLogger.Sugar(),
		closers: z.closers,
	}
}

func toZapField(f Field) zap.Field {
	switch v := f.Value.(type) {
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	case time.Time:
		return zap.Time(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case error:
		return zap.NamedError(f.Key, v)
	case []string:
		return zap.Strings(f.Key, v)
	default:
		return zap.Reflect(f.Key, v)
	}
}

// WithContext 返回带有 context 中 trace 与 correlation 信息的 logger.
//
// traceId/spanId 取自 OpenTelemetry span，correlationId 取自 ContextWithCorrelationID.
func (z *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return z
	}

	var fields []Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			String("traceId", sc.TraceID().String()),
			String("spanId", sc.SpanID().String()),
		)
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		fields = append(fields, String("correlationId", id))
	}

	return z.With(fields...)
}

// Sync 同步日志缓冲区.
func (z *zapLogger) Sync() error {
	return z.logger.Sync()
}

// Close 关闭 logger 并释放资源.
func (z *zapLogger) Close() error {
	// stdout 的 sync 错误可忽略: https://github.com/uber-go/zap/issues/328
	_ = z.logger.Sync()
	for _, closeFn := range z.closers {
		closeFn()
	}
	return nil
}
