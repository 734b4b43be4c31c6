package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewOpsRouter_ServesMetrics は/metricsパスでメトリクスが返ることを検証する。
func TestNewOpsRouter_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordFetchSuccess("test-feed")

	router := NewOpsRouter(reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), "feedown_fetch_success_total") {
		t.Error("response should contain feedown_fetch_success_total metric")
	}
}

// TestNewOpsRouter_Health はヘルスチェックの結果に応じたステータスを返すことを検証する。
func TestNewOpsRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		check      HealthChecker
		wantStatus int
		wantBody   string
	}{
		{name: "チェックなし", check: nil, wantStatus: http.StatusOK, wantBody: `"ok"`},
		{
			name:       "正常",
			check:      func(ctx context.Context) error { return nil },
			wantStatus: http.StatusOK,
			wantBody:   `"ok"`,
		},
		{
			name:       "異常",
			check:      func(ctx context.Context) error { return errors.New("db unreachable") },
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "db unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewOpsRouter(prometheus.NewRegistry(), tt.check)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

// TestNewOpsRouter_UnknownPath はユーザー向けAPIを提供しないことを検証する。
func TestNewOpsRouter_UnknownPath(t *testing.T) {
	router := NewOpsRouter(prometheus.NewRegistry(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
