package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eventdigest/internal/config"
	"eventdigest/internal/external"
	"eventdigest/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig(serverURL string) *config.Config {
	return &config.Config{
		Digest: config.DigestConfig{
			SiteURL:  serverURL,
			Timezone: "America/Lima",
		},
		Resend: config.ResendConfig{
			APIKey:      types.SecretString("re_test"),
			BaseURL:     serverURL,
			FromAddress: "Eventis <hola@eventis.pe>",
			SendTimeout: time.Second,
		},
		Upstream: config.UpstreamConfig{Timeout: time.Second},
		Lock:     config.LockConfig{TTL: time.Minute},
		Build:    config.BuildInfo{Version: "1.2.3"},
	}
}

// fakeUpstream serves both the Resend contacts API and the site feed.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/contacts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"email":"a@example.com"},{"email":"b@example.com"}]}`))
	})
	mux.HandleFunc("/events_by_day.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"2024-03-12":[{"title":"Concierto","venue":"Teatro"}]}`))
	})
	mux.HandleFunc("/emails", func(w http.ResponseWriter, r *http.Request) {
		t.Error("dry run must not call the email API")
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(nil, nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNew_UnknownTimezone(t *testing.T) {
	cfg := baseConfig("http://127.0.0.1:0")
	cfg.Digest.Timezone = "Mars/Olympus"

	if _, err := New(cfg, discardLogger(), Options{}); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestNew_InvalidRedisURL(t *testing.T) {
	cfg := baseConfig("http://127.0.0.1:0")
	cfg.Lock.RedisURL = types.SecretString("not-a-redis-url")

	if _, err := New(cfg, discardLogger(), Options{}); err == nil {
		t.Fatal("expected redis url error")
	}
}

func TestNew_WithoutRedis(t *testing.T) {
	a, err := New(baseConfig("http://127.0.0.1:0"), discardLogger(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Redis != nil {
		t.Error("Redis should be nil without REDIS_URL")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, ok := a.Clients.Mailer.(*external.ResendClient); !ok {
		t.Errorf("Mailer is %T, want *ResendClient", a.Clients.Mailer)
	}
}

func TestNew_WithRedisURL(t *testing.T) {
	cfg := baseConfig("http://127.0.0.1:0")
	cfg.Lock.RedisURL = types.SecretString("redis://127.0.0.1:6379/0")

	a, err := New(cfg, discardLogger(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Redis == nil {
		t.Fatal("Redis client not created")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestApp_DryRunDigest(t *testing.T) {
	srv := fakeUpstream(t)

	a, err := New(baseConfig(srv.URL), discardLogger(), Options{DryRun: true, Clock: fixedClock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	result, err := a.Dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Total != 2 || result.Sent != 2 {
		t.Errorf("result = %+v, want 2/2", result)
	}
	if got := a.Clients.Mailer.(*external.LogMailer).Sent(); got != 2 {
		t.Errorf("logged messages = %d, want 2", got)
	}
}

func TestApp_Preview(t *testing.T) {
	srv := fakeUpstream(t)

	a, err := New(baseConfig(srv.URL), discardLogger(), Options{Clock: fixedClock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, err := a.Dispatcher.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.Window.Start() != "2024-03-10" {
		t.Errorf("window start = %q, want 2024-03-10", p.Window.Start())
	}
	if !strings.Contains(p.HTML, "Concierto") {
		t.Error("preview HTML missing the week's event")
	}
}

func TestApp_PreviewCapsEventsPerDay(t *testing.T) {
	var feed strings.Builder
	feed.WriteString(`{"2024-03-13":[`)
	for i := 0; i < 30; i++ {
		if i > 0 {
			feed.WriteString(",")
		}
		fmt.Fprintf(&feed, `{"title":"Evento %02d"}`, i)
	}
	feed.WriteString(`]}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed.String()))
	}))
	t.Cleanup(srv.Close)

	a, err := New(baseConfig(srv.URL), discardLogger(), Options{Clock: fixedClock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := a.Dispatcher.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if n := strings.Count(p.HTML, `class="event"`); n != 25 {
		t.Errorf("rendered events = %d, want 25", n)
	}
	if !strings.Contains(p.HTML, "y 5 más") {
		t.Error("overflow note should state 5 remaining")
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(config.BuildInfo{Version: "1.2.3"}); got != "eventdigest/1.2.3" {
		t.Errorf("UserAgent = %q", got)
	}
	if got := UserAgent(config.BuildInfo{}); got != "eventdigest/dev" {
		t.Errorf("UserAgent = %q", got)
	}
}
