// Package chat owns per-session conversation state: an ordered list of turns,
// each created pending and then answered by the agent.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wolfman30/doctor-appointment-assistant/internal/conversation"
)

// Placeholder is the assistant text shown while a turn is pending.
const Placeholder = "thinking..."

// MaxMessageLength bounds a single user message, in runes.
const MaxMessageLength = 2000

var (
	ErrEmptyMessage   = errors.New("chat: message is empty")
	ErrMessageTooLong = errors.New("chat: message is too long")
	ErrTurnInFlight   = errors.New("chat: a reply is still pending")
	ErrNoPendingTurn  = errors.New("chat: no pending turn")
	ErrInvalidSession = errors.New("chat: invalid session id")
)

// TurnState is pending until the agent's reply replaces the placeholder.
type TurnState string

const (
	TurnPending  TurnState = "pending"
	TurnAnswered TurnState = "answered"
)

// Turn is one (user message, assistant reply) pair.
type Turn struct {
	ID               string    `json:"id"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	State            TurnState `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	AnsweredAt       time.Time `json:"answered_at,omitempty"`
}

// Responder produces the assistant reply for a message. It never fails.
type Responder interface {
	Reply(ctx context.Context, history []conversation.ChatMessage, message string) string
}

// Renderer is notified after each phase of a turn.
type Renderer interface {
	Render(turns []Turn)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(turns []Turn)

func (f RenderFunc) Render(turns []Turn) {
	if f != nil {
		f(turns)
	}
}

// Session is one patient's conversation. Methods are safe for concurrent use;
// at most one turn is pending at a time.
type Session struct {
	id    string
	mu    sync.Mutex
	turns []Turn
	now   func() time.Time
}

// NewSession restores a session from previously saved turns.
func NewSession(id string, turns []Turn) *Session {
	return &Session{
		id:    id,
		turns: append([]Turn(nil), turns...),
		now:   time.Now,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Turns returns a copy of the turn list in order.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Pending reports whether the last turn is still waiting for a reply.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Session) pendingLocked() bool {
	return len(s.turns) > 0 && s.turns[len(s.turns)-1].State == TurnPending
}

// Begin appends a pending turn with the placeholder reply.
func (s *Session) Begin(text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return Turn{}, ErrMessageTooLong
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingLocked() {
		return Turn{}, ErrTurnInFlight
	}
	turn := Turn{
		ID:               uuid.NewString(),
		UserMessage:      text,
		AssistantMessage: Placeholder,
		State:            TurnPending,
		CreatedAt:        s.now().UTC(),
	}
	s.turns = append(s.turns, turn)
	return turn, nil
}

// Answer replaces the placeholder of the pending turn.
func (s *Session) Answer(reply string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingLocked() {
		return Turn{}, ErrNoPendingTurn
	}
	last := &s.turns[len(s.turns)-1]
	last.AssistantMessage = reply
	last.State = TurnAnswered
	last.AnsweredAt = s.now().UTC()
	return *last, nil
}

// History renders answered turns as model messages.
func (s *Session) History() []conversation.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]conversation.ChatMessage, 0, len(s.turns)*2)
	for _, t := range s.turns {
		if t.State != TurnAnswered {
			continue
		}
		msgs = append(msgs,
			conversation.ChatMessage{Role: conversation.ChatRoleUser, Content: t.UserMessage},
			conversation.ChatMessage{Role: conversation.ChatRoleAssistant, Content: t.AssistantMessage},
		)
	}
	return msgs
}

// Send runs the two-phase cycle: append the pending turn and render, ask the
// responder, then replace the placeholder and render again.
func (s *Session) Send(ctx context.Context, text string, responder Responder, renderer Renderer) (Turn, error) {
	history := s.History()
	turn, err := s.Begin(text)
	if err != nil {
		return Turn{}, err
	}
	if renderer != nil {
		renderer.Render(s.Turns())
	}

	reply := responder.Reply(ctx, history, turn.UserMessage)

	answered, err := s.Answer(reply)
	if err != nil {
		return Turn{}, err
	}
	if renderer != nil {
		renderer.Render(s.Turns())
	}
	return answered, nil
}
