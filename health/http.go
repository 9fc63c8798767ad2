package health

import (
	"encoding/json"
	"net/http"
)

// 默认路径.
const (
	LivenessPath  = "/healthz"
	ReadinessPath = "/readyz"
)

// LivenessHandler 存活检查 Handler.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeReport(w, h.Liveness(r.Context()))
	}
}

// ReadinessHandler 就绪检查 Handler.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeReport(w, h.Readiness(r.Context()))
	}
}

// RegisterRoutes 在 mux 上注册 GET /healthz 与 GET /readyz.
func (h *Health) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+LivenessPath, h.LivenessHandler())
	mux.HandleFunc("GET "+ReadinessPath, h.ReadinessHandler())
}

func writeReport(w http.ResponseWriter, report Report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	status := http.StatusOK
	if report.Status != StatusUp {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}
