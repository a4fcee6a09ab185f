// Package notify delivers appointment requests to the doctor's webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
	"github.com/wolfman30/doctor-appointment-assistant/internal/observability/metrics"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

const (
	defaultTimeout = 15 * time.Second

	// MsgNotified is returned when the webhook accepted the request.
	MsgNotified = booking.SuccessMarker + " Doctor notified via webhook!"
)

var notifyTracer = otel.Tracer("doctorbot.internal.notify")

// DoctorNotifier sends an appointment request to the doctor. Failures are
// reported through the returned outcome, never as an error.
type DoctorNotifier interface {
	NotifyDoctor(ctx context.Context, req booking.AppointmentRequest) booking.Outcome
}

// WebhookNotifier posts appointment requests to a fixed HTTP endpoint.
type WebhookNotifier struct {
	httpClient *http.Client
	url        string
	logger     *logging.Logger
	metrics    *metrics.AssistantMetrics
}

// WebhookOption customizes a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		if c != nil {
			n.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		if d > 0 {
			n.httpClient.Timeout = d
		}
	}
}

// WithMetrics records webhook outcomes and latency.
func WithMetrics(m *metrics.AssistantMetrics) WebhookOption {
	return func(n *WebhookNotifier) {
		n.metrics = m
	}
}

// NewWebhookNotifier constructs a notifier for the given endpoint.
func NewWebhookNotifier(url string, logger *logging.Logger, opts ...WebhookOption) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("notify: webhook url is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	n := &WebhookNotifier{
		httpClient: &http.Client{Timeout: defaultTimeout},
		url:        url,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyDoctor makes exactly one POST attempt. Only HTTP 200 counts as success.
func (n *WebhookNotifier) NotifyDoctor(ctx context.Context, req booking.AppointmentRequest) booking.Outcome {
	ctx, span := notifyTracer.Start(ctx, "notify.webhook")
	defer span.End()
	span.SetAttributes(attribute.String("doctorbot.doctor", req.DoctorName))

	start := time.Now()
	outcome := n.post(ctx, req.Normalized())
	n.metrics.ObserveWebhook(string(outcome.Kind), time.Since(start).Seconds())

	span.SetAttributes(attribute.String("doctorbot.outcome", string(outcome.Kind)))
	if outcome.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.status_code", outcome.StatusCode))
	}
	if !outcome.OK() {
		span.SetStatus(codes.Error, outcome.Message)
	}
	return outcome
}

func (n *WebhookNotifier) post(ctx context.Context, req booking.AppointmentRequest) booking.Outcome {
	payload, err := json.Marshal(req)
	if err != nil {
		return booking.TransportFailure(fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return booking.TransportFailure(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		n.logger.Warn("doctor webhook unreachable", "doctor", req.DoctorName, "error", err)
		return booking.TransportFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		n.logger.Warn("doctor webhook rejected request", "doctor", req.DoctorName, "status", resp.StatusCode, "body", string(body))
		return booking.RemoteRejected(resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	n.logger.Info("doctor notified", "doctor", req.DoctorName, "date", req.Date, "time", req.Time)
	return booking.Success(MsgNotified)
}
