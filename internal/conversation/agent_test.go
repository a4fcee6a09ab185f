package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
	"github.com/wolfman30/doctor-appointment-assistant/internal/bookings"
	"github.com/wolfman30/doctor-appointment-assistant/internal/directory"
	"github.com/wolfman30/doctor-appointment-assistant/internal/notify"
	"github.com/wolfman30/doctor-appointment-assistant/internal/observability/metrics"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

// Monday, October 19, 2026.
var testNow = time.Date(2026, time.October, 19, 9, 30, 0, 0, time.UTC)

type stubLLMClient struct {
	mu        sync.Mutex
	responses []LLMResponse
	errs      []error
	requests  []LLMRequest
	calls     int
}

func (s *stubLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return LLMResponse{}, s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return LLMResponse{}, errors.New("stub: no scripted response")
}

func (s *stubLLMClient) lastRequest() LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func callTool(t *testing.T, tool string, args map[string]any) LLMResponse {
	t.Helper()
	raw, err := json.Marshal(Decision{Action: ActionCallTool, Tool: tool, Arguments: args})
	if err != nil {
		t.Fatalf("marshal decision: %v", err)
	}
	return LLMResponse{Text: string(raw)}
}

func reply(t *testing.T, msg string) LLMResponse {
	t.Helper()
	raw, err := json.Marshal(Decision{Action: ActionReply, Message: msg})
	if err != nil {
		t.Fatalf("marshal decision: %v", err)
	}
	return LLMResponse{Text: string(raw)}
}

func appointmentArgs(patient, doctor, date, clock string) map[string]any {
	return map[string]any{"patient_name": patient, "doctor_name": doctor, "date": date, "time": clock}
}

type harness struct {
	agent        *Agent
	llm          *stubLLMClient
	webhookCalls *atomic.Int32
	bookings     *bookings.Service
	registry     *prometheus.Registry
}

func newHarness(t *testing.T, llm *stubLLMClient, webhookStatus int, cfg AgentConfig) *harness {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(webhookStatus)
	}))
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	m := metrics.NewAssistantMetrics(reg)
	logger := logging.Default()

	notifier, err := notify.NewWebhookNotifier(srv.URL, logger, notify.WithMetrics(m))
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	repo, err := bookings.NewFileRepository(filepath.Join(t.TempDir(), "appointments.json"))
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	svc := bookings.NewService(repo, logger, m)
	dir := directory.Default()
	catalog, err := DefaultTools(dir, notifier, svc)
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testNow }
	}
	agent, err := NewAgent(llm, dir, catalog, cfg, logger, m)
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	return &harness{agent: agent, llm: llm, webhookCalls: calls, bookings: svc, registry: reg}
}

func (h *harness) records(t *testing.T) []booking.Record {
	t.Helper()
	recs, err := h.bookings.List(context.Background())
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	return recs
}

func TestSaturdayQuestionIsGroundedInDirectory(t *testing.T) {
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolGetDoctors, nil),
		reply(t, "On Saturday only Dr. Ahmed (Neurologist) is available: Morning 10:00 AM - 2:00 PM and Evening 7:00 PM - 11:00 PM."),
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	res := h.agent.Respond(context.Background(), nil, "What doctors are available on Saturday?")
	if !strings.Contains(res.Reply, "Dr. Ahmed") {
		t.Fatalf("expected Dr. Ahmed in reply, got %q", res.Reply)
	}
	if strings.Contains(res.Reply, "Dr. Khan") {
		t.Fatalf("reply must not offer Dr. Khan on Saturday: %q", res.Reply)
	}
	if len(res.Calls) != 1 || res.Calls[0].Tool != ToolGetDoctors || !res.Calls[0].Executed {
		t.Fatalf("expected one get_doctors call, got %+v", res.Calls)
	}

	// The directory snapshot is fed back to the model.
	last := llm.lastRequest().Messages
	observation := last[len(last)-1].Content
	if !strings.HasPrefix(observation, "Tool result for get_doctors:") || !strings.Contains(observation, "Neurologist") {
		t.Fatalf("unexpected observation %q", observation)
	}
	if h.webhookCalls.Load() != 0 || len(h.records(t)) != 0 {
		t.Fatalf("no booking side effects expected")
	}
}

func TestHappyBookingInvokesEachToolOnce(t *testing.T) {
	args := appointmentArgs("Ali Raza", "Dr. Ahmed", "Saturday", "11:00 AM")
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolSendDoctorRequest, args),
		callTool(t, ToolConfirmPatient, args),
		reply(t, booking.MsgBooked+" Dr. Ahmed will see Ali Raza on Saturday at 11:00 AM."),
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	res := h.agent.Respond(context.Background(), nil, "Book Ali Raza with Dr. Ahmed on Saturday at 11:00 AM")
	if !booking.IsSuccessMessage(res.Reply) {
		t.Fatalf("expected success marker, got %q", res.Reply)
	}
	if got := h.webhookCalls.Load(); got != 1 {
		t.Fatalf("expected 1 webhook call, got %d", got)
	}
	recs := h.records(t)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0] != (booking.Record{Patient: "Ali Raza", Doctor: "Dr. Ahmed", Date: "Saturday", Time: "11:00 AM"}) {
		t.Fatalf("unexpected record %+v", recs[0])
	}
	if n, err := testutil.GatherAndCount(h.registry, "doctorbot_agent_turns_total"); err != nil || n != 1 {
		t.Fatalf("expected one turn series, got %d (%v)", n, err)
	}
}

func TestLooseDoctorNameIsStoredCanonically(t *testing.T) {
	args := appointmentArgs("Ali Raza", "ahmed", "Saturday", "11:00 AM")
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolSendDoctorRequest, args),
		callTool(t, ToolConfirmPatient, args),
		reply(t, booking.MsgBooked+" See you Saturday."),
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{RequireDoctorNotification: true})

	res := h.agent.Respond(context.Background(), nil, "Book Ali Raza with ahmed on Saturday at 11")
	if !booking.IsSuccessMessage(res.Reply) {
		t.Fatalf("expected success marker, got %q", res.Reply)
	}
	for _, call := range res.Calls {
		if got := call.Arguments["doctor_name"]; got != "Dr. Ahmed" {
			t.Fatalf("%s called with doctor %v", call.Tool, got)
		}
	}
	recs := h.records(t)
	if len(recs) != 1 || recs[0].Doctor != "Dr. Ahmed" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestOutOfWindowBookingHasNoSideEffects(t *testing.T) {
	args := appointmentArgs("Sara", "Dr. Khan", "Monday", "3 PM")
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolSendDoctorRequest, args),
		callTool(t, ToolConfirmPatient, args),
		reply(t, booking.MsgDoctorUnavailable+" Dr. Khan is available Monday 10:00 AM - 2:00 PM or 7:00 PM - 10:00 PM. Which works for you?"),
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	res := h.agent.Respond(context.Background(), nil, "Book Sara with Dr. Khan Monday 3 PM")
	if h.webhookCalls.Load() != 0 {
		t.Fatalf("webhook must not be called")
	}
	if len(h.records(t)) != 0 {
		t.Fatalf("appointment must not be recorded")
	}
	for _, call := range res.Calls {
		if call.Executed {
			t.Fatalf("call %s should have been refused", call.Tool)
		}
		if !strings.HasPrefix(call.Result, booking.MsgDoctorUnavailable) {
			t.Fatalf("unexpected refusal %q", call.Result)
		}
	}
	if !strings.Contains(res.Reply, "not available") {
		t.Fatalf("expected unavailability reply, got %q", res.Reply)
	}
}

func TestUnknownDoctorAndMissingFieldsAreRefused(t *testing.T) {
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolSendDoctorRequest, appointmentArgs("Sara", "Dr. Who", "Monday", "11 AM")),
		callTool(t, ToolSendDoctorRequest, appointmentArgs("", "Dr. Khan", "Monday", "11 AM")),
		callTool(t, ToolSendDoctorRequest, appointmentArgs("Sara", "Dr. Khan", "someday", "11 AM")),
		reply(t, "Could you tell me your full name?"),
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	res := h.agent.Respond(context.Background(), nil, "book me")
	if len(res.Calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(res.Calls))
	}
	if !strings.HasPrefix(res.Calls[0].Result, booking.MsgDoctorUnavailable) {
		t.Fatalf("unknown doctor: %q", res.Calls[0].Result)
	}
	if !strings.Contains(res.Calls[1].Result, "patient name") {
		t.Fatalf("missing name: %q", res.Calls[1].Result)
	}
	if !strings.HasPrefix(res.Calls[2].Result, msgClarify) {
		t.Fatalf("vague date: %q", res.Calls[2].Result)
	}
	if h.webhookCalls.Load() != 0 {
		t.Fatalf("webhook must not be called")
	}
	if res.Reply != "Could you tell me your full name?" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
}

func TestDuplicateBookingCallsAreDeduplicated(t *testing.T) {
	args := appointmentArgs("Ali Raza", "Dr. Ahmed", "Saturday", "11:00 AM")
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolSendDoctorRequest, args),
		callTool(t, ToolSendDoctorRequest, appointmentArgs("ali raza", "dr. ahmed", "saturday", "11:00 am")),
		callTool(t, ToolConfirmPatient, args),
		callTool(t, ToolConfirmPatient, args),
		reply(t, booking.MsgBooked),
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	res := h.agent.Respond(context.Background(), nil, "book it")
	if got := h.webhookCalls.Load(); got != 1 {
		t.Fatalf("expected 1 webhook call, got %d", got)
	}
	if got := len(h.records(t)); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
	if res.Calls[1].Executed || res.Calls[3].Executed {
		t.Fatalf("duplicates must not execute: %+v", res.Calls)
	}
	if res.Calls[1].Result != res.Calls[0].Result {
		t.Fatalf("duplicate should reuse the earlier result")
	}
}

func TestConfirmationIndependentOfNotificationByDefault(t *testing.T) {
	args := appointmentArgs("Ali Raza", "Dr. Ahmed", "Saturday", "11:00 AM")
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolSendDoctorRequest, args),
		callTool(t, ToolConfirmPatient, args),
		reply(t, "The doctor could not be reached, but your appointment is confirmed."),
	}
	h := newHarness(t, llm, http.StatusInternalServerError, AgentConfig{})

	res := h.agent.Respond(context.Background(), nil, "book it")
	if !strings.Contains(res.Calls[0].Result, "500") {
		t.Fatalf("expected rejected notification, got %q", res.Calls[0].Result)
	}
	if !res.Calls[1].Executed || !booking.IsSuccessMessage(res.Calls[1].Result) {
		t.Fatalf("confirmation should proceed independently, got %+v", res.Calls[1])
	}
	if len(h.records(t)) != 1 {
		t.Fatalf("expected the appointment to be recorded")
	}
	// The model omitted markers, so the last booking outcome is appended.
	if !strings.Contains(res.Reply, booking.SuccessMarker) {
		t.Fatalf("expected booking outcome in reply, got %q", res.Reply)
	}
}

func TestRequireDoctorNotificationBlocksConfirmation(t *testing.T) {
	args := appointmentArgs("Ali Raza", "Dr. Ahmed", "Saturday", "11:00 AM")
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolSendDoctorRequest, args),
		callTool(t, ToolConfirmPatient, args),
		reply(t, booking.MsgConfirmFailed),
	}
	h := newHarness(t, llm, http.StatusBadGateway, AgentConfig{RequireDoctorNotification: true})

	res := h.agent.Respond(context.Background(), nil, "book it")
	if res.Calls[1].Executed || res.Calls[1].Result != MsgNotNotifiedYet {
		t.Fatalf("confirmation should be refused, got %+v", res.Calls[1])
	}
	if len(h.records(t)) != 0 {
		t.Fatalf("nothing should be recorded")
	}
}

func TestRequireDoctorNotificationAllowsAfterSuccess(t *testing.T) {
	args := appointmentArgs("Ali Raza", "Dr. Ahmed", "Saturday", "11:00 AM")
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, ToolSendDoctorRequest, args),
		callTool(t, ToolConfirmPatient, args),
		reply(t, booking.MsgBooked),
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{RequireDoctorNotification: true})

	res := h.agent.Respond(context.Background(), nil, "book it")
	if !res.Calls[1].Executed {
		t.Fatalf("confirmation should run after a successful notification")
	}
	if len(h.records(t)) != 1 {
		t.Fatalf("expected one record")
	}
}

func TestLLMErrorBecomesUserVisibleString(t *testing.T) {
	llm := &stubLLMClient{errs: []error{errors.New("quota exceeded")}}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	got := h.agent.Reply(context.Background(), nil, "hello")
	if got != MsgAgentError {
		t.Fatalf("expected error reply, got %q", got)
	}
}

func TestPlainTextAnswerIsFinalReply(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{{Text: "Hello! How can I help you book an appointment?"}}}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	got := h.agent.Reply(context.Background(), nil, "hi")
	if got != "Hello! How can I help you book an appointment?" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestTrailingProseAfterDecisionIsIgnored(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{{Text: `{"action":"reply","message":"Hi there"} Let me know!`}}}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	got := h.agent.Reply(context.Background(), nil, "hi")
	if got != "Hi there" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestUnusableDecisionIsNotShownToPatient(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{{Text: `{"action":"reply","message":""}`}}}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	got := h.agent.Reply(context.Background(), nil, "hi")
	if got != MsgAgentEmptyReply {
		t.Fatalf("expected empty-reply message, got %q", got)
	}
}

func TestUnknownToolIsReportedToModel(t *testing.T) {
	llm := &stubLLMClient{}
	llm.responses = []LLMResponse{
		callTool(t, "cancel_appointment", nil),
		reply(t, "I can't cancel appointments."),
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})

	res := h.agent.Respond(context.Background(), nil, "cancel my booking")
	if !strings.Contains(res.Calls[0].Result, "Unknown tool") {
		t.Fatalf("expected unknown tool observation, got %q", res.Calls[0].Result)
	}
}

func TestStepLimit(t *testing.T) {
	llm := &stubLLMClient{}
	for i := 0; i < 5; i++ {
		llm.responses = append(llm.responses, callTool(t, ToolGetDoctors, nil))
	}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{MaxSteps: 3})

	res := h.agent.Respond(context.Background(), nil, "who is available?")
	if res.Reply != MsgAgentStepLimit {
		t.Fatalf("expected step limit reply, got %q", res.Reply)
	}
	if res.Steps != 3 || llm.calls != 3 {
		t.Fatalf("expected 3 steps, got %d (calls %d)", res.Steps, llm.calls)
	}
}

func TestHistoryIsTrimmedToConfiguredTurns(t *testing.T) {
	history := []ChatMessage{
		{Role: ChatRoleUser, Content: "first"},
		{Role: ChatRoleAssistant, Content: "one"},
		{Role: ChatRoleUser, Content: "second"},
		{Role: ChatRoleAssistant, Content: "two"},
	}

	llm := &stubLLMClient{responses: []LLMResponse{reply(t, "ok")}}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{HistoryTurns: 1})
	h.agent.Reply(context.Background(), history, "third")
	msgs := llm.lastRequest().Messages
	if len(msgs) != 3 || msgs[0].Content != "second" || msgs[2].Content != "third" {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	llm = &stubLLMClient{responses: []LLMResponse{reply(t, "ok")}}
	h = newHarness(t, llm, http.StatusOK, AgentConfig{HistoryTurns: 0})
	h.agent.Reply(context.Background(), history, "third")
	if msgs := llm.lastRequest().Messages; len(msgs) != 1 {
		t.Fatalf("expected only the latest message, got %+v", msgs)
	}
}

func TestSystemPromptListsToolsAndDate(t *testing.T) {
	llm := &stubLLMClient{responses: []LLMResponse{reply(t, "ok")}}
	h := newHarness(t, llm, http.StatusOK, AgentConfig{})
	h.agent.Reply(context.Background(), nil, "hi")

	req := llm.lastRequest()
	if !req.JSONOutput {
		t.Fatalf("expected JSON output mode")
	}
	system := strings.Join(req.System, "\n")
	for _, want := range []string{ToolGetDoctors, ToolSendDoctorRequest, ToolConfirmPatient, "Monday, October 19, 2026", booking.MsgBooked} {
		if !strings.Contains(system, want) {
			t.Fatalf("system prompt missing %q", want)
		}
	}
}
