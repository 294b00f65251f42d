package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newTestServerForRoutes(t *testing.T) *Server {
	t.Helper()
	srv := newTestServer(t)
	srv.Metrics = &MockMetricsCollector{}
	srv.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP eventdigest_runs_total\n"))
	})
	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, map[string]bool{"ok": true})
		})
	})
	srv.MountRoutes()
	return srv
}

// TestMountRoutes_MiddlewareCount guards against accidentally adding or
// removing middleware from the chain.
func TestMountRoutes_MiddlewareCount(t *testing.T) {
	srv := newTestServerForRoutes(t)
	if got := len(srv.Router().Middlewares()); got != 7 {
		t.Errorf("registered %d middleware, want 7", got)
	}
}

func TestMountRoutes_Endpoints(t *testing.T) {
	srv := newTestServerForRoutes(t)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/ping", http.StatusOK},
		{"/api/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.wantStatus {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.wantStatus)
		}
	}
}

func TestMountRoutes_NoMetricsHandler(t *testing.T) {
	srv := newTestServer(t)
	srv.MountRoutes()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics = %d, want 404 without a handler", w.Code)
	}
}

func TestMountRoutes_RequestIDPropagation(t *testing.T) {
	srv := newTestServerForRoutes(t)

	r := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.Header.Set("X-Request-Id", "req-from-cron")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if got := w.Header().Get("X-Request-Id"); got != "req-from-cron" {
		t.Errorf("X-Request-Id = %q, want propagated value", got)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if got := w.Header().Get("X-Request-Id"); len(got) != 36 {
		t.Errorf("generated X-Request-Id = %q, want a UUID", got)
	}
}

func TestMountRoutes_HealthBody(t *testing.T) {
	srv := newTestServerForRoutes(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] != "1.4.0" {
		t.Errorf("body = %v", body)
	}
}

func TestContextTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	h := ContextTimeoutMiddleware(time.Minute)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if until := time.Until(deadline); until <= 0 || until > time.Minute {
		t.Errorf("deadline in %v, want within a minute", until)
	}
}

func TestRequestTimeout_FromConfig(t *testing.T) {
	srv := newTestServer(t)
	if srv.requestTimeout() != defaultRequestTimeout {
		t.Errorf("default timeout = %v", srv.requestTimeout())
	}
	srv.Config.Server.RequestTimeout = 90 * time.Second
	if srv.requestTimeout() != 90*time.Second {
		t.Errorf("configured timeout = %v", srv.requestTimeout())
	}
}
