package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// instrumentationName tracer 名称.
const instrumentationName = "github.com/Tsukikage7/transit-checkout"

// InjectHeaders 将 ctx 中的追踪上下文写入消息头.
//
// headers 为 nil 时会新建.
func InjectHeaders(ctx context.Context, headers map[string]string) map[string]string {
	if headers == nil {
		headers = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

// ExtractHeaders 从消息头恢复追踪上下文.
func ExtractHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// StartProducerSpan 为消息发送开启 span.
func StartProducerSpan(ctx context.Context, topic string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	attrs = append(attrs,
		attribute.String("messaging.destination.name", topic),
		attribute.String("messaging.operation", "publish"),
	)
	return otel.Tracer(instrumentationName).Start(ctx, "publish "+topic,
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(attrs...),
	)
}

// StartConsumerSpan 从消息头恢复上下文并开启消费 span.
func StartConsumerSpan(ctx context.Context, topic string, headers map[string]string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	ctx = ExtractHeaders(ctx, headers)
	attrs = append(attrs,
		attribute.String("messaging.destination.name", topic),
		attribute.String("messaging.operation", "process"),
	)
	return otel.Tracer(instrumentationName).Start(ctx, "process "+topic,
		oteltrace.WithSpanKind(oteltrace.SpanKindConsumer),
		oteltrace.WithAttributes(attrs...),
	)
}

// StartServerSpan 从 HTTP 请求头恢复上下文并开启服务端 span.
func StartServerSpan(r *http.Request, route string) (context.Context, oteltrace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return otel.Tracer(instrumentationName).Start(ctx, r.Method+" "+route,
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		),
	)
}

// StartSpan 开启内部 span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// RecordError 在 span 上记录错误并标记状态，err 为 nil 时不做任何事.
func RecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
