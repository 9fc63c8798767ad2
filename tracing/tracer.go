// Package tracing 提供 OpenTelemetry 链路追踪初始化与消息头传播.
package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// SetupPropagation 安装全局 W3C TraceContext 与 Baggage 传播器.
func SetupPropagation() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// NewTracer 创建 TracerProvider 并注册为全局实例.
//
// 未启用时返回不导出的 provider，调用方同样需要在退出时 Shutdown.
func NewTracer(ctx context.Context, cfg *Config, serviceName, serviceVersion string) (*trace.TracerProvider, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	SetupPropagation()
	if !cfg.Enabled {
		return trace.NewTracerProvider(), nil
	}
	if serviceName == "" {
		return nil, ErrEmptyServiceName
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exp, err := otlptracehttp.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, errors.Join(ErrCreateExporter, err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		)),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// exporterOptions 根据端点前缀决定是否使用 TLS，无前缀时按明文处理.
func exporterOptions(cfg *Config) []otlptracehttp.Option {
	endpoint, secure := cfg.Endpoint, false
	if after, ok := strings.CutPrefix(endpoint, "https://"); ok {
		endpoint, secure = after, true
	} else if after, ok := strings.CutPrefix(endpoint, "http://"); ok {
		endpoint = after
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if !secure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return opts
}
