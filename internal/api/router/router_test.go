package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/doctor-appointment-assistant/internal/chat"
	"github.com/wolfman30/doctor-appointment-assistant/internal/conversation"
	"github.com/wolfman30/doctor-appointment-assistant/internal/observability/metrics"
	"github.com/wolfman30/doctor-appointment-assistant/internal/webchat"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

type cannedResponder struct{}

func (cannedResponder) Reply(_ context.Context, _ []conversation.ChatMessage, message string) string {
	return "✅ Dr. Ahmed is available on Saturday."
}

func newTestRouter(t *testing.T, cfg *Config) http.Handler {
	t.Helper()

	logger := logging.New("error")
	manager := chat.NewManager(chat.NewMemoryStore(), cannedResponder{}, logger)
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = logger
	cfg.WebChat = webchat.NewHandler(manager, logger)
	return New(cfg)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterHealthReportsFailingDependency(t *testing.T) {
	router := newTestRouter(t, &Config{HealthChecks: map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "degraded" || resp["redis"] != "connection refused" {
		t.Fatalf("unexpected health body %+v", resp)
	}
}

func TestRouterServesChatPage(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Doctor Appointment Assistant") {
		t.Fatalf("expected chat page body")
	}
}

func TestRouterChatMessageAndHistory(t *testing.T) {
	router := newTestRouter(t, nil)

	body := `{"session_id":"router-session-1","text":"Which doctors work Saturday?"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat/message", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "✅ Dr. Ahmed is available on Saturday." {
		t.Fatalf("unexpected reply %q", resp.Reply)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/history?session=router-session-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Which doctors work Saturday?") {
		t.Fatalf("expected turn in history: %s", rr.Body.String())
	}
}

func TestRouterRateLimitsChat(t *testing.T) {
	router := newTestRouter(t, &Config{ChatRateLimitPerMinute: 1})

	var limited bool
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/chat/history?session=router-session-2", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		router.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("expected chat routes to be rate limited")
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health should not be rate limited, got %d", rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAssistantMetrics(reg)
	m.ObserveTurn("answered")

	router := newTestRouter(t, &Config{MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "doctorbot_agent_turns_total") {
		t.Fatalf("expected turn counter in metrics output")
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, &Config{CORSAllowedOrigins: []string{"https://clinic.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/chat/message", nil)
	req.Header.Set("Origin", "https://clinic.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://clinic.example" {
		t.Fatalf("expected allow origin header")
	}
}
