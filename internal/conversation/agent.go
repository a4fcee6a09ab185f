// Package conversation turns patient messages into tool calls and replies,
// using a hosted language model as the decision engine.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
	"github.com/wolfman30/doctor-appointment-assistant/internal/directory"
	"github.com/wolfman30/doctor-appointment-assistant/internal/observability/metrics"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

var llmTracer = otel.Tracer("doctorbot.internal.conversation")

// User-visible replies produced by the agent itself.
const (
	MsgAgentError      = booking.FailureMarker + " Sorry, something went wrong while handling your request. Please try again."
	MsgAgentStepLimit  = booking.FailureMarker + " Sorry, I couldn't finish handling that request. Please try again with the patient name, doctor, date and time."
	MsgAgentEmptyReply = booking.FailureMarker + " Sorry, I didn't get a response. Please try again."
	MsgNotNotifiedYet  = booking.MsgConfirmFailed + " The doctor has not been notified yet."
)

const (
	defaultMaxSteps     = 6
	defaultTurnTimeout  = 90 * time.Second
	defaultLLMTimeout   = 60 * time.Second
	defaultHistoryTurns = 10
)

// AgentConfig tunes the decision loop.
type AgentConfig struct {
	// Model labels metrics and is passed to the client.
	Model       string
	MaxSteps    int
	TurnTimeout time.Duration
	// HistoryTurns is the number of earlier turns passed to the model; zero
	// sends only the latest message.
	HistoryTurns int
	// RequireDoctorNotification makes confirm_patient refuse unless the doctor
	// was notified for the same request earlier in the turn.
	RequireDoctorNotification bool
	Location                  *time.Location
	Now                       func() time.Time
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.MaxSteps <= 0 {
		c.MaxSteps = defaultMaxSteps
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = defaultTurnTimeout
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = defaultHistoryTurns
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ToolInvocation records one tool decision within a turn.
type ToolInvocation struct {
	Tool      string
	Arguments map[string]any
	Result    string
	// Executed is false when the call was refused, unknown or a duplicate.
	Executed bool
}

// TurnResult is the outcome of one agent turn.
type TurnResult struct {
	Reply string
	Calls []ToolInvocation
	Steps int
}

// Agent is the conversational controller.
type Agent struct {
	client    LLMClient
	directory *directory.Directory
	catalog   *ToolCatalog
	cfg       AgentConfig
	logger    *logging.Logger
	metrics   *metrics.AssistantMetrics
}

// NewAgent wires the decision loop to its tools.
func NewAgent(client LLMClient, dir *directory.Directory, catalog *ToolCatalog, cfg AgentConfig, logger *logging.Logger, m *metrics.AssistantMetrics) (*Agent, error) {
	if client == nil {
		return nil, errors.New("conversation: llm client is required")
	}
	if dir == nil {
		return nil, errors.New("conversation: directory is required")
	}
	if catalog == nil {
		return nil, errors.New("conversation: tool catalog is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Agent{
		client:    client,
		directory: dir,
		catalog:   catalog,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   m,
	}, nil
}

// Reply answers one patient message. It never fails: internal errors become a
// failure-marked string.
func (a *Agent) Reply(ctx context.Context, history []ChatMessage, message string) string {
	return a.Respond(ctx, history, message).Reply
}

// Respond runs the decision loop for one turn and reports the tool calls made.
func (a *Agent) Respond(ctx context.Context, history []ChatMessage, message string) TurnResult {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.TurnTimeout)
	defer cancel()
	ctx, span := llmTracer.Start(ctx, "conversation.turn")
	defer span.End()

	now := a.cfg.Now().In(a.cfg.Location)
	system := buildSystemPrompt(a.catalog.Specs(), now)
	messages := append(trimHistory(history, a.cfg.HistoryTurns), ChatMessage{Role: ChatRoleUser, Content: message})

	st := newTurnState()
	result := TurnResult{}
	defer func() {
		span.SetAttributes(
			attribute.Int("doctorbot.agent.steps", result.Steps),
			attribute.Int("doctorbot.agent.tool_calls", len(result.Calls)),
		)
	}()

	for result.Steps < a.cfg.MaxSteps {
		result.Steps++
		raw, err := a.complete(ctx, system, messages)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "llm failed")
			a.metrics.ObserveTurn("error")
			a.logger.Error("agent turn failed", "step", result.Steps, "error", err)
			result.Reply = MsgAgentError
			return result
		}

		decision, ok := parseDecision(raw)
		if !ok {
			// Plain text is taken as the final answer; a broken decision object is not.
			text := strings.TrimSpace(raw)
			if looksLikeDecision(text) {
				a.logger.Warn("unusable decision from model", "step", result.Steps)
				text = ""
			}
			result.Reply = a.finalize(text, st)
			a.metrics.ObserveTurn("answered")
			return result
		}
		if decision.Action == ActionReply {
			result.Reply = a.finalize(strings.TrimSpace(decision.Message), st)
			a.metrics.ObserveTurn("answered")
			return result
		}

		call := a.dispatch(ctx, st, decision, now)
		result.Calls = append(result.Calls, call)
		messages = append(messages,
			ChatMessage{Role: ChatRoleAssistant, Content: raw},
			ChatMessage{Role: ChatRoleUser, Content: fmt.Sprintf("Tool result for %s: %s", call.Tool, call.Result)},
		)
	}

	a.metrics.ObserveTurn("step_limit")
	a.logger.Warn("agent step limit reached", "steps", result.Steps, "tool_calls", len(result.Calls))
	result.Reply = a.finalize(MsgAgentStepLimit, st)
	return result
}

func (a *Agent) complete(ctx context.Context, system string, messages []ChatMessage) (string, error) {
	ctx, span := llmTracer.Start(ctx, "conversation.llm")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, defaultLLMTimeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.Complete(callCtx, LLMRequest{
		Model:       a.cfg.Model,
		System:      []string{system},
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.2,
		JSONOutput:  true,
	})
	latency := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.ObserveLLM(a.modelLabel(), status, latency.Seconds())
	a.metrics.AddTokens(a.modelLabel(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Float64("doctorbot.llm.latency_ms", float64(latency.Milliseconds())),
			attribute.String("doctorbot.llm.model", a.modelLabel()),
			attribute.Int("doctorbot.llm.input_tokens", int(resp.Usage.InputTokens)),
			attribute.Int("doctorbot.llm.output_tokens", int(resp.Usage.OutputTokens)),
			attribute.String("doctorbot.llm.stop_reason", resp.StopReason),
		)
	}
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("llm completion failed", "model", a.modelLabel(), "latency_ms", latency.Milliseconds(), "error", err)
		return "", fmt.Errorf("conversation: llm completion failed: %w", err)
	}
	return resp.Text, nil
}

func (a *Agent) modelLabel() string {
	if a.cfg.Model == "" {
		return "default"
	}
	return a.cfg.Model
}

type turnState struct {
	results     map[string]string
	notified    map[string]bool
	lastBooking string
}

func newTurnState() *turnState {
	return &turnState{
		results:  make(map[string]string),
		notified: make(map[string]bool),
	}
}

func (a *Agent) dispatch(ctx context.Context, st *turnState, d Decision, now time.Time) ToolInvocation {
	ctx, span := llmTracer.Start(ctx, "conversation.tool")
	defer span.End()
	span.SetAttributes(attribute.String("doctorbot.tool", d.Tool))

	call := ToolInvocation{Tool: d.Tool, Arguments: d.Arguments}
	tool, spec, ok := a.catalog.Lookup(d.Tool)
	if !ok {
		call.Result = fmt.Sprintf("%s Unknown tool %q. Available tools: %s.", booking.FailureMarker, d.Tool, strings.Join(a.catalog.Names(), ", "))
		a.metrics.ObserveToolCall("unknown", "rejected")
		a.logger.Warn("model requested unknown tool", "tool", d.Tool)
		return call
	}

	var key string
	if spec.Booking {
		d.Arguments = a.canonicalDoctor(d.Arguments)
		call.Arguments = d.Arguments
		req := AppointmentFromArgs(d.Arguments)
		key = spec.Name + "|" + req.Key()
		if prev, dup := st.results[key]; dup {
			call.Result = prev
			a.metrics.ObserveToolCall(spec.Name, "duplicate")
			a.logger.Info("duplicate tool call skipped", "tool", spec.Name)
			return call
		}
		if refusal, ok := a.guard(req, now); !ok {
			call.Result = refusal
			st.results[key] = refusal
			a.metrics.ObserveToolCall(spec.Name, "rejected")
			a.logger.Info("booking tool refused", "tool", spec.Name, "reason", refusal)
			return call
		}
		if spec.Name == ToolConfirmPatient && a.cfg.RequireDoctorNotification && !st.notified[req.Key()] {
			call.Result = MsgNotNotifiedYet
			st.results[key] = call.Result
			a.metrics.ObserveToolCall(spec.Name, "rejected")
			return call
		}
	}

	out, err := tool.Invoke(ctx, d.Arguments)
	call.Executed = true
	if err != nil {
		span.RecordError(err)
		a.logger.Error("tool failed", "tool", spec.Name, "error", err)
		out = fmt.Sprintf("%s Tool %s failed: %v", booking.FailureMarker, spec.Name, err)
	}
	call.Result = out
	a.metrics.ObserveToolCall(spec.Name, toolOutcome(out))
	a.logger.Info("tool invoked", "tool", spec.Name, "outcome", toolOutcome(out))

	if spec.Booking {
		st.results[key] = out
		st.lastBooking = out
		if spec.Name == ToolSendDoctorRequest && booking.IsSuccessMessage(out) {
			st.notified[AppointmentFromArgs(d.Arguments).Key()] = true
		}
	}
	return call
}

// canonicalDoctor replaces a loosely written doctor name with its directory
// key so notifications and records always carry the listed name.
func (a *Agent) canonicalDoctor(args map[string]any) map[string]any {
	doc, ok := a.directory.Lookup(stringArg(args, "doctor_name"))
	if !ok {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	out["doctor_name"] = doc.Name
	return out
}

// finalize makes sure the outcome of an executed booking step is visible to
// the patient even when the model's reply omits it.
func (a *Agent) finalize(reply string, st *turnState) string {
	if reply == "" {
		reply = MsgAgentEmptyReply
	}
	if st.lastBooking == "" {
		return reply
	}
	if strings.Contains(reply, booking.SuccessMarker) || strings.Contains(reply, booking.FailureMarker) {
		return reply
	}
	return reply + "\n\n" + st.lastBooking
}

func toolOutcome(out string) string {
	switch {
	case booking.IsFailureMessage(out):
		return "failure"
	case booking.IsSuccessMessage(out):
		return "success"
	default:
		return "ok"
	}
}

// trimHistory keeps the last limit turns (user/assistant pairs).
func trimHistory(history []ChatMessage, limit int) []ChatMessage {
	if limit <= 0 || len(history) == 0 {
		return nil
	}
	msgs := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" || m.Role == ChatRoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	if keep := limit * 2; len(msgs) > keep {
		msgs = msgs[len(msgs)-keep:]
	}
	return msgs
}
