package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestNewTracer_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewTracer(ctx, nil, "checkoutd", "1.0.0")
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = NewTracer(ctx, &Config{Enabled: true, Endpoint: "localhost:4318"}, "", "1.0.0")
	assert.ErrorIs(t, err, ErrEmptyServiceName)

	_, err = NewTracer(ctx, &Config{Enabled: true}, "checkoutd", "1.0.0")
	assert.ErrorIs(t, err, ErrEmptyEndpoint)

	_, err = NewTracer(ctx, &Config{Enabled: true, Endpoint: "localhost:4318", SamplingRate: 1.5}, "checkoutd", "1.0.0")
	assert.ErrorIs(t, err, ErrSamplingRate)
}

func TestNewTracer_Disabled(t *testing.T) {
	tp, err := NewTracer(context.Background(), &Config{}, "", "")
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracer_Enabled(t *testing.T) {
	endpoints := []string{"localhost:4318", "http://localhost:4318", "https://collector.example.com/"}
	for _, endpoint := range endpoints {
		t.Run(endpoint, func(t *testing.T) {
			cfg := &Config{
				Enabled:  true,
				Endpoint: endpoint,
				Headers:  map[string]string{"Authorization": "Bearer token"},
			}
			tp, err := NewTracer(context.Background(), cfg, "checkoutd", "1.0.0")
			require.NoError(t, err)
			assert.Equal(t, 1.0, cfg.SamplingRate)
			_ = tp.Shutdown(context.Background())
		})
	}
}

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions(&Config{Endpoint: "http://localhost:4318"}), 2)
	assert.Len(t, exporterOptions(&Config{Endpoint: "https://collector:4318"}), 1)
	assert.Len(t, exporterOptions(&Config{Endpoint: "collector:4318", Headers: map[string]string{"k": "v"}}), 3)
}

func TestConfig(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, 1.0, cfg.SamplingRate)
	assert.NoError(t, cfg.Validate())

	assert.ErrorIs(t, (&Config{Enabled: true, SamplingRate: 1}).Validate(), ErrEmptyEndpoint)
	assert.ErrorIs(t, (&Config{Enabled: true, Endpoint: "c:4318", SamplingRate: -1}).Validate(), ErrSamplingRate)
}

func TestHeaderPropagation(t *testing.T) {
	SetupPropagation()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "root")
	headers := InjectHeaders(ctx, map[string]string{"x-saga-id": "s-1"})
	span.End()

	assert.Equal(t, "s-1", headers["x-saga-id"])
	require.Contains(t, headers, "traceparent")

	extracted := ExtractHeaders(context.Background(), headers)
	sc := oteltrace.SpanContextFromContext(extracted)
	assert.True(t, sc.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
}

func TestExtractHeaders_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractHeaders(ctx, nil))
}

func TestRecordError_Nil(t *testing.T) {
	_, span := StartSpan(context.Background(), "noop")
	defer span.End()

	assert.NotPanics(t, func() { RecordError(span, nil) })
}
