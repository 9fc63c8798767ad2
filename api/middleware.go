package api

import (
	"net/http"
	"runtime/debug"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/response"
	"github.com/Tsukikage7/transit-checkout/tracing"
)

// correlated 将 X-Correlation-ID 写入 context 并回写到响应头.
func (h *Handler) correlated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(HeaderCorrelationID); id != "" {
			w.Header().Set(HeaderCorrelationID, id)
			r = r.WithContext(logger.ContextWithCorrelationID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// traced 为每个请求开启服务端 span.
func (h *Handler) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartServerSpan(r, r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recovered 捕获 panic 并返回 500.
func (h *Handler) recovered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				h.log.WithContext(r.Context()).With(
					logger.Any("panic", p),
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.String("stack", string(debug.Stack())),
				).Error("[API] panic recovered")
				_ = response.WriteError(w, response.CodeInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
