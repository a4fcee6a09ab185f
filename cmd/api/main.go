package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/doctor-appointment-assistant/cmd/mainconfig"
	"github.com/wolfman30/doctor-appointment-assistant/internal/api/router"
	"github.com/wolfman30/doctor-appointment-assistant/internal/app/bootstrap"
	"github.com/wolfman30/doctor-appointment-assistant/internal/chat"
	appconfig "github.com/wolfman30/doctor-appointment-assistant/internal/config"
	"github.com/wolfman30/doctor-appointment-assistant/internal/observability/metrics"
	"github.com/wolfman30/doctor-appointment-assistant/internal/webchat"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting doctor appointment assistant",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsCfg *aws.Config
	if cfg.BedrockModelID != "" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	metricsHandler, assistantMetrics := setupMetrics()

	llm, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure language model", "error", err)
		os.Exit(1)
	}
	defer llm.Close()

	assistant, err := bootstrap.BuildAssistant(cfg, llm, logger, assistantMetrics)
	if err != nil {
		logger.Error("failed to build assistant", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	healthChecks := map[string]router.HealthCheck{}
	if redisClient != nil {
		defer redisClient.Close()
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	sessions := chat.NewManager(
		bootstrap.BuildSessionStore(redisClient, cfg, logger),
		assistant.Agent,
		logger,
		chat.WithStaleAfter(2*cfg.AgentTurnTimeout),
	)
	go sessions.Run(ctx, 5*time.Minute, time.Hour)

	webChat := webchat.NewHandler(sessions, logger,
		webchat.WithMessageRate(cfg.ChatRateLimitPerMinute, 5),
		webchat.WithReplyDeadline(cfg.AgentTurnTimeout+15*time.Second),
	)

	// Setup router
	r := router.New(&router.Config{
		Logger:                 logger,
		WebChat:                webChat,
		MetricsHandler:         metricsHandler,
		CORSAllowedOrigins:     cfg.CORSAllowedOrigins,
		ChatRateLimitPerMinute: cfg.ChatRateLimitPerMinute,
		HealthChecks:           healthChecks,
	})

	srv := newServer(cfg, r)

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics builds a dedicated registry with runtime collectors and the
// assistant metrics.
func setupMetrics() (http.Handler, *metrics.AssistantMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewAssistantMetrics(reg)
}

// newServer sizes the write timeout to outlast a synchronous chat turn.
func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	writeTimeout := cfg.AgentTurnTimeout + 30*time.Second
	if writeTimeout < time.Minute {
		writeTimeout = time.Minute
	}
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
