package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func TestReadiness(t *testing.T) {
	t.Run("no checkers is up", func(t *testing.T) {
		report := New().Readiness(context.Background())
		assert.Equal(t, StatusUp, report.Status)
		assert.Empty(t, report.Checks)
	})

	t.Run("any down is down", func(t *testing.T) {
		h := New(WithChecker(
			NewPingChecker("cache", "redis", PingFunc(up)),
			NewPingChecker("store", "database", PingFunc(func(context.Context) error {
				return errors.New("connection refused")
			})),
		))

		report := h.Readiness(context.Background())
		assert.Equal(t, StatusDown, report.Status)
		require.Len(t, report.Checks, 2)
		assert.Equal(t, StatusUp, report.Checks["cache"].Status)
		assert.Equal(t, "connection refused", report.Checks["store"].Message)
		assert.Equal(t, "database", report.Checks["store"].Kind)
	})

	t.Run("checks are bounded by timeout", func(t *testing.T) {
		h := New(WithTimeout(20*time.Millisecond), WithChecker(
			NewPingChecker("slow", "bus", PingFunc(func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			})),
		))

		report := h.Readiness(context.Background())
		assert.Equal(t, StatusDown, report.Status)
	})
}

func TestDrain(t *testing.T) {
	h := New(WithChecker(NewPingChecker("cache", "redis", PingFunc(up))))
	require.Equal(t, StatusUp, h.Readiness(context.Background()).Status)

	h.Drain()
	report := h.Readiness(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "draining", report.Checks["lifecycle"].Message)
	assert.Equal(t, StatusUp, h.Liveness(context.Background()).Status)
}

func TestHTTPRoutes(t *testing.T) {
	h := New()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, LivenessPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	h.Add(NewPingChecker("store", "database", PingFunc(func(context.Context) error {
		return errors.New("down")
	})))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ReadinessPath, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "DOWN", body["status"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, LivenessPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
