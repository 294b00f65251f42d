package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type panickingProbe struct{}

func (panickingProbe) Name() string                { return "flaky" }
func (panickingProbe) Check(context.Context) error { panic("nil client") }

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	w := httptest.NewRecorder()
	srv.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	return w.Code, body
}

func TestHandleHealth_NoProbes(t *testing.T) {
	status, body := runHealth(t)
	if status != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %+v", status, body)
	}
	if body.Version != "1.4.0" {
		t.Errorf("Version = %q, want 1.4.0", body.Version)
	}
	if body.Components != nil {
		t.Errorf("Components = %v, want none", body.Components)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	status, body := runHealth(t, &MockHealthProbe{ProbeName: "redis"})
	if status != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %+v", status, body)
	}
	if body.Components["redis"].Status != "ok" {
		t.Errorf("redis = %+v", body.Components["redis"])
	}
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	status, body := runHealth(t,
		&MockHealthProbe{ProbeName: "redis", Err: errors.New("connection refused")},
	)
	if status != http.StatusServiceUnavailable || body.Status != "unhealthy" {
		t.Errorf("got %d %+v", status, body)
	}
	if c := body.Components["redis"]; c.Status != "unhealthy" || c.Message != "connection refused" {
		t.Errorf("redis = %+v", c)
	}
}

func TestHandleHealth_TimedOutProbe(t *testing.T) {
	start := time.Now()
	status, body := runHealth(t, &MockHealthProbe{ProbeName: "redis", Delay: time.Minute})

	if elapsed := time.Since(start); elapsed > healthCheckTimeout+time.Second {
		t.Errorf("health check took %v, want about %v", elapsed, healthCheckTimeout)
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if c := body.Components["redis"]; c.Status != "unhealthy" {
		t.Errorf("redis = %+v", c)
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	status, body := runHealth(t, panickingProbe{}, &MockHealthProbe{ProbeName: "redis"})
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if body.Components["flaky"].Status != "unhealthy" || body.Components["redis"].Status != "ok" {
		t.Errorf("components = %+v", body.Components)
	}
}
