// Package webchat serves the patient-facing chat page and its WebSocket and
// HTTP endpoints.
package webchat

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/wolfman30/doctor-appointment-assistant/internal/chat"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

//go:embed static/index.html
var indexHTML []byte

// Sessions is the chat session surface the handler needs.
type Sessions interface {
	Send(ctx context.Context, sessionID, text string, renderer chat.Renderer) (chat.Turn, error)
	History(ctx context.Context, sessionID string) ([]chat.Turn, error)
}

// Handler manages chat page, WebSocket connections and HTTP fallbacks.
type Handler struct {
	sessions      Sessions
	logger        *logging.Logger
	messageRate   rate.Limit
	messageBurst  int
	replyDeadline time.Duration
}

// InboundMessage is what the page sends over the WebSocket.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what the page receives.
type OutboundMessage struct {
	Type      string      `json:"type"` // "session", "history", "turn", "pong", "error"
	SessionID string      `json:"session_id,omitempty"`
	Text      string      `json:"text,omitempty"`
	Turn      *chat.Turn  `json:"turn,omitempty"`
	Turns     []chat.Turn `json:"turns,omitempty"`
}

// Option customizes a Handler.
type Option func(*Handler)

// WithMessageRate limits messages per WebSocket connection.
func WithMessageRate(perMinute, burst int) Option {
	return func(h *Handler) {
		if perMinute > 0 {
			h.messageRate = rate.Every(time.Minute / time.Duration(perMinute))
		}
		if burst > 0 {
			h.messageBurst = burst
		}
	}
}

// WithReplyDeadline bounds how long a single turn may run.
func WithReplyDeadline(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.replyDeadline = d
		}
	}
}

// NewHandler creates a web chat handler.
func NewHandler(sessions Sessions, logger *logging.Logger, opts ...Option) *Handler {
	if sessions == nil {
		panic("webchat: sessions required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		sessions:      sessions,
		logger:        logger,
		messageRate:   rate.Every(2 * time.Second),
		messageBurst:  5,
		replyDeadline: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleIndex serves the chat page.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(indexHTML)
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" || !chat.ValidSessionID(sessionID) {
		sessionID = chat.NewSessionID()
	}
	out := newConnRenderer(conn, sessionID, h.logger)

	out.send(OutboundMessage{Type: "session", SessionID: sessionID})

	turns, err := h.sessions.History(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("webchat: failed to load history", "session_id", sessionID, "error", err)
		out.send(OutboundMessage{Type: "error", Text: "Could not load your previous messages."})
	} else {
		out.send(OutboundMessage{Type: "history", SessionID: sessionID, Turns: turns})
	}

	h.logger.Info("webchat: connection opened", "session_id", sessionID)
	limiter := rate.NewLimiter(h.messageRate, h.messageBurst)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "session_id", sessionID, "error", err)
			return
		}

		switch msg.Type {
		case "ping":
			out.send(OutboundMessage{Type: "pong"})
			continue
		case "message":
		default:
			continue
		}
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		if !limiter.Allow() {
			out.send(OutboundMessage{Type: "error", Text: "You are sending messages too quickly. Please wait a moment."})
			continue
		}

		// Turns run off the read loop so a message sent while a reply is
		// pending can be refused immediately.
		go h.runTurn(r.Context(), sessionID, msg.Text, out)
	}
}

func (h *Handler) runTurn(parent context.Context, sessionID, text string, out *connRenderer) {
	// A closed tab must not abort a booking halfway through its tool calls.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.replyDeadline)
	defer cancel()

	if _, err := h.sessions.Send(ctx, sessionID, text, out); err != nil {
		out.send(OutboundMessage{Type: "error", Text: userError(err)})
	}
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type messageResponse struct {
	SessionID string      `json:"session_id"`
	Reply     string      `json:"reply"`
	Turn      chat.Turn   `json:"turn"`
	Turns     []chat.Turn `json:"turns"`
}

// HandleMessage is the synchronous HTTP fallback for sending a message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = chat.NewSessionID()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.replyDeadline)
	defer cancel()

	var latest []chat.Turn
	turn, err := h.sessions.Send(ctx, req.SessionID, req.Text, chat.RenderFunc(func(turns []chat.Turn) {
		latest = turns
	}))
	if err != nil {
		writeError(w, statusFor(err), userError(err))
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		SessionID: req.SessionID,
		Reply:     turn.AssistantMessage,
		Turn:      turn,
		Turns:     latest,
	})
}

// HandleHistory returns the turns of a session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session parameter required")
		return
	}
	turns, err := h.sessions.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidSession) {
			writeError(w, http.StatusBadRequest, userError(err))
			return
		}
		h.logger.Error("webchat: failed to load history", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "turns": turns})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrTurnInFlight):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, chat.ErrInvalidSession):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func userError(err error) string {
	switch {
	case errors.Is(err, chat.ErrTurnInFlight):
		return "Please wait for the current reply before sending another message."
	case errors.Is(err, chat.ErrEmptyMessage):
		return "Please type a message."
	case errors.Is(err, chat.ErrMessageTooLong):
		return "That message is too long. Please shorten it."
	case errors.Is(err, chat.ErrInvalidSession):
		return "Invalid session id."
	default:
		return "Sorry, something went wrong. Please try again."
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
