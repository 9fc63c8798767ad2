// Package api 提供结账 saga 的 HTTP 接口.
//
//	POST /api/v1/checkouts            发起结账，身份取自 X-User-ID
//	GET  /api/v1/sagas/{id}/status    查询状态
//	GET  /api/v1/sagas/{id}           查询 saga 详情
//	POST /api/v1/sagas/{id}/cancel    取消进行中的 saga
//	GET  /metrics                     Prometheus 指标
//	GET  /healthz, /readyz            健康检查
package api

import (
	"context"
	"net/http"

	"github.com/Tsukikage7/transit-checkout/health"
	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/metrics"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// 请求头.
const (
	HeaderUserID        = "X-User-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// Service 结账 saga 操作，由 orchestrator.Orchestrator 实现.
type Service interface {
	StartSaga(ctx context.Context, req *saga.CheckoutRequest, userID string) (string, error)
	GetSagaStatus(ctx context.Context, sagaID string) (saga.Status, error)
	GetSaga(ctx context.Context, sagaID string) (*saga.Saga, error)
	CancelSaga(ctx context.Context, sagaID, reason string) error
}

// Handler HTTP 处理器.
type Handler struct {
	svc     Service
	log     logger.Logger
	metrics *metrics.PrometheusCollector
	health  *health.Health
}

// Option 配置选项.
type Option func(*Handler)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

// WithMetrics 设置指标收集器，同时挂载指标端点.
func WithMetrics(collector *metrics.PrometheusCollector) Option {
	return func(h *Handler) {
		h.metrics = collector
	}
}

// WithHealth 设置健康检查.
func WithHealth(hc *health.Health) Option {
	return func(h *Handler) {
		h.health = hc
	}
}

// New 创建 HTTP 处理器.
func New(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		log:    logger.NewNop(),
		health: health.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 返回注册了全部路由并套好中间件的 http.Handler.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/checkouts", h.startCheckout)
	mux.HandleFunc("GET /api/v1/sagas/{id}/status", h.getStatus)
	mux.HandleFunc("GET /api/v1/sagas/{id}", h.getSaga)
	mux.HandleFunc("POST /api/v1/sagas/{id}/cancel", h.cancel)
	h.health.RegisterRoutes(mux)
	if h.metrics != nil {
		mux.Handle("GET "+h.metrics.GetPath(), h.metrics.GetHandler())
	}

	var handler http.Handler = mux
	if h.metrics != nil {
		handler = metrics.HTTPMiddleware(h.metrics)(handler)
	}
	handler = h.traced(handler)
	handler = h.correlated(handler)
	return h.recovered(handler)
}
