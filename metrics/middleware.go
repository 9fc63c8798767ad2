package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPMiddleware 返回 HTTP 指标采集中间件.
//
// 路径 label 取 ServeMux 匹配到的路由模板（去掉方法前缀），因此中间件必须直接包裹
// *http.ServeMux，中间不能有替换 *http.Request 的中间件. 未匹配的请求记为 "unmatched".
func HTTPMiddleware(collector *PrometheusCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			collector.RecordHTTPRequest(
				r.Method,
				routeLabel(r.Pattern),
				strconv.Itoa(rec.status),
				time.Since(start),
				float64(max(r.ContentLength, 0)),
				float64(rec.written),
			)
		})
	}
}

func routeLabel(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

// statusRecorder 记录状态码与响应字节数.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap 供 http.ResponseController 访问底层 writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
