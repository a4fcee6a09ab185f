package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	httpmiddleware "github.com/wolfman30/doctor-appointment-assistant/internal/http/middleware"
	"github.com/wolfman30/doctor-appointment-assistant/internal/webchat"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	WebChat            *webchat.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// ChatRateLimitPerMinute caps chat requests per client IP. Zero disables it.
	ChatRateLimitPerMinute int

	// HealthChecks are run by /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.WebChat != nil {
		r.With(middleware.Compress(5)).Get("/", cfg.WebChat.HandleIndex)
		r.Route("/chat", func(chatRoutes chi.Router) {
			if cfg.ChatRateLimitPerMinute > 0 {
				burst := cfg.ChatRateLimitPerMinute / 6
				if burst < 3 {
					burst = 3
				}
				chatRoutes.Use(httpmiddleware.RateLimit(cfg.ChatRateLimitPerMinute, burst))
			}
			chatRoutes.Get("/ws", cfg.WebChat.HandleWebSocket)
			chatRoutes.Post("/message", cfg.WebChat.HandleMessage)
			chatRoutes.Get("/history", cfg.WebChat.HandleHistory)
		})
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := map[string]string{"status": "ok"}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp[name] = err.Error()
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
