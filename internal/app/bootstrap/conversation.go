package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/doctor-appointment-assistant/internal/bookings"
	appconfig "github.com/wolfman30/doctor-appointment-assistant/internal/config"
	"github.com/wolfman30/doctor-appointment-assistant/internal/conversation"
	"github.com/wolfman30/doctor-appointment-assistant/internal/directory"
	"github.com/wolfman30/doctor-appointment-assistant/internal/notify"
	"github.com/wolfman30/doctor-appointment-assistant/internal/observability/metrics"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

// LLM bundles the configured model client with the label used for metrics and
// a closer for provider resources.
type LLM struct {
	Client conversation.LLMClient
	Model  string
	Close  func() error
}

// BuildLLMClient wires Gemini as the primary model and Bedrock as the fallback.
// Either may be absent; awsCfg is only needed when a Bedrock model is set.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		primary  conversation.LLMClient
		fallback conversation.LLMClient
		model    string
		closer   = func() error { return nil }
	)

	if key := strings.TrimSpace(cfg.GeminiAPIKey); key != "" {
		gemini, err := conversation.NewGeminiLLMClient(ctx, key, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		primary = gemini
		model = gemini.ModelID()
		closer = gemini.Close
		logger.Info("gemini model configured", "model", model)
	}

	if modelID := strings.TrimSpace(cfg.BedrockModelID); modelID != "" {
		if awsCfg == nil {
			logger.Warn("bedrock model configured without aws config; fallback disabled", "model", modelID)
		} else {
			fallback = conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(*awsCfg), modelID)
			if model == "" {
				model = modelID
			}
			logger.Info("bedrock model configured", "model", modelID, "fallback", primary != nil)
		}
	}

	switch {
	case primary != nil && fallback != nil:
		return &LLM{Client: conversation.NewFallbackLLMClient(primary, fallback, logger), Model: model, Close: closer}, nil
	case primary != nil:
		return &LLM{Client: primary, Model: model, Close: closer}, nil
	case fallback != nil:
		return &LLM{Client: fallback, Model: model, Close: closer}, nil
	default:
		return nil, errors.New("bootstrap: no language model configured (set GEMINI_API_KEY or BEDROCK_MODEL_ID)")
	}
}

// Assistant holds the booking components the agent acts through.
type Assistant struct {
	Agent     *conversation.Agent
	Directory *directory.Directory
	Bookings  *bookings.Service
	Notifier  *notify.WebhookNotifier
}

// BuildAssistant wires the directory, webhook notifier, appointment record and
// tool catalog into an agent.
func BuildAssistant(cfg *appconfig.Config, llm *LLM, logger *logging.Logger, m *metrics.AssistantMetrics) (*Assistant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if llm == nil || llm.Client == nil {
		return nil, fmt.Errorf("bootstrap: llm client is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	dir := directory.Default()

	notifier, err := notify.NewWebhookNotifier(cfg.WebhookURL, logger,
		notify.WithTimeout(cfg.WebhookTimeout),
		notify.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: webhook notifier: %w", err)
	}

	repo, err := bookings.NewFileRepository(cfg.AppointmentsFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: appointment record: %w", err)
	}
	svc := bookings.NewService(repo, logger, m)

	catalog, err := conversation.DefaultTools(dir, notifier, svc)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tools: %w", err)
	}

	agent, err := conversation.NewAgent(llm.Client, dir, catalog, conversation.AgentConfig{
		Model:                     llm.Model,
		MaxSteps:                  cfg.AgentMaxSteps,
		TurnTimeout:               cfg.AgentTurnTimeout,
		HistoryTurns:              cfg.AgentHistoryTurns,
		RequireDoctorNotification: cfg.RequireDoctorNotification,
		Location:                  cfg.Location(),
	}, logger, m)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: agent: %w", err)
	}

	logger.Info("assistant ready",
		"model", llm.Model,
		"doctors", len(dir.ListDoctors()),
		"appointments_file", repo.Path(),
		"require_doctor_notification", cfg.RequireDoctorNotification,
	)
	return &Assistant{Agent: agent, Directory: dir, Bookings: svc, Notifier: notifier}, nil
}
