package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultGeminiModelID = "gemini-2.5-flash"
	DefaultWebhookURL    = "https://giaic-q4.vercel.app/set-appointment"
)

// Config holds application configuration. It is built once at startup and
// handed to the components that need it.
type Config struct {
	Port     string
	Env      string
	LogLevel string
	Timezone string

	// Language model
	GeminiAPIKey        string
	GeminiModelID       string
	BedrockModelID      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Doctor notification webhook
	WebhookURL     string
	WebhookTimeout time.Duration

	// Local appointment record
	AppointmentsFile string

	// Agent behaviour
	AgentMaxSteps             int
	AgentTurnTimeout          time.Duration
	AgentHistoryTurns         int
	RequireDoctorNotification bool

	// Chat sessions
	RedisAddr              string
	RedisPassword          string
	RedisTLS               bool
	SessionTTL             time.Duration
	ChatRateLimitPerMinute int
	CORSAllowedOrigins     []string
}

// Load reads configuration from environment variables, after pulling in a
// local .env file when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnv("TIMEZONE", "UTC"),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", DefaultGeminiModelID),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		WebhookURL:     getEnv("DOCTOR_WEBHOOK_URL", DefaultWebhookURL),
		WebhookTimeout: getEnvAsDuration("DOCTOR_WEBHOOK_TIMEOUT", 15*time.Second),

		AppointmentsFile: getEnv("APPOINTMENTS_FILE", "appointments.json"),

		AgentMaxSteps:             getEnvAsInt("AGENT_MAX_STEPS", 6),
		AgentTurnTimeout:          getEnvAsDuration("AGENT_TURN_TIMEOUT", 90*time.Second),
		AgentHistoryTurns:         getEnvAsInt("AGENT_HISTORY_TURNS", 10),
		RequireDoctorNotification: getEnvAsBool("REQUIRE_DOCTOR_NOTIFICATION", false),

		RedisAddr:              getEnv("REDIS_ADDR", ""),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisTLS:               getEnvAsBool("REDIS_TLS", false),
		SessionTTL:             getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		ChatRateLimitPerMinute: getEnvAsInt("CHAT_RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// Validate reports configuration that would leave the assistant unable to answer.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	if strings.TrimSpace(c.GeminiAPIKey) == "" && strings.TrimSpace(c.BedrockModelID) == "" {
		return errors.New("config: GEMINI_API_KEY or BEDROCK_MODEL_ID is required")
	}
	if strings.TrimSpace(c.WebhookURL) == "" {
		return errors.New("config: DOCTOR_WEBHOOK_URL is required")
	}
	if strings.TrimSpace(c.AppointmentsFile) == "" {
		return errors.New("config: APPOINTMENTS_FILE is required")
	}
	return nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
