package chat

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

// MsgInterrupted answers a turn left pending by a previous process.
const MsgInterrupted = booking.FailureMarker + " This request was interrupted. Please send it again."

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// Store persists session turns between requests.
type Store interface {
	Load(ctx context.Context, sessionID string) ([]Turn, error)
	Save(ctx context.Context, sessionID string, turns []Turn) error
}

// Manager owns live sessions and keeps their turns in a Store.
type Manager struct {
	store      Store
	responder  Responder
	logger     *logging.Logger
	staleAfter time.Duration

	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*liveSession
	// inflight counts Send calls running in this process per session.
	inflight map[string]int
}

type liveSession struct {
	session  *Session
	lastSeen time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithStaleAfter sets how old a stored pending turn must be before it is
// treated as interrupted.
func WithStaleAfter(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

func NewManager(store Store, responder Responder, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if responder == nil {
		panic("chat: responder required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		store:      store,
		responder:  responder,
		logger:     logger,
		staleAfter: 5 * time.Minute,
		now:        time.Now,
		sessions:   make(map[string]*liveSession),
		inflight:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id is acceptable as a session key.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Session returns the live session for id, loading it from the store on first use.
// A pending turn that no Send in this process owns is answered with
// MsgInterrupted once it is older than the stale threshold.
func (m *Manager) Session(ctx context.Context, id string) (*Session, error) {
	if !ValidSessionID(id) {
		return nil, ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.sessions[id]
	if !ok {
		turns, err := m.store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("chat: load session: %w", err)
		}
		live = &liveSession{session: NewSession(id, turns)}
		m.sessions[id] = live
	}
	live.lastSeen = m.now()
	if m.inflight[id] == 0 {
		m.recoverStaleLocked(ctx, id, live.session)
	}
	return live.session, nil
}

func (m *Manager) recoverStaleLocked(ctx context.Context, id string, s *Session) {
	turns := s.Turns()
	if len(turns) == 0 || turns[len(turns)-1].State != TurnPending {
		return
	}
	last := turns[len(turns)-1]
	if m.now().Sub(last.CreatedAt) <= m.staleAfter {
		return
	}
	if _, err := s.Answer(MsgInterrupted); err != nil {
		return
	}
	m.logger.Warn("recovered interrupted turn", "session_id", id, "turn_id", last.ID)
	if err := m.store.Save(context.WithoutCancel(ctx), id, s.Turns()); err != nil {
		m.logger.Error("failed to save session", "session_id", id, "error", err)
	}
}

// History returns the session's turns.
func (m *Manager) History(ctx context.Context, id string) ([]Turn, error) {
	s, err := m.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Turns(), nil
}

// Send runs one turn for the session. The renderer (may be nil) sees both
// phases; the store is updated after each phase.
func (m *Manager) Send(ctx context.Context, id, text string, renderer Renderer) (Turn, error) {
	s, err := m.Session(ctx, id)
	if err != nil {
		return Turn{}, err
	}
	m.mu.Lock()
	m.inflight[id]++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.inflight[id]--; m.inflight[id] <= 0 {
			delete(m.inflight, id)
		}
		m.mu.Unlock()
	}()

	start := time.Now()
	turn, err := s.Send(ctx, text, m.responder, RenderFunc(func(turns []Turn) {
		if err := m.store.Save(context.WithoutCancel(ctx), id, turns); err != nil {
			m.logger.Error("failed to save session", "session_id", id, "error", err)
		}
		if renderer != nil {
			renderer.Render(turns)
		}
	}))
	if err != nil {
		return Turn{}, err
	}
	m.logger.Info("turn answered",
		"session_id", id,
		"turn_id", turn.ID,
		"message_len", len(turn.UserMessage),
		"reply_len", len(turn.AssistantMessage),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return turn, nil
}

// Prune forgets live sessions idle for longer than idle, except those with a
// Send running. Their turns stay in the store.
func (m *Manager) Prune(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-idle)
	removed := 0
	for id, live := range m.sessions {
		if live.lastSeen.Before(cutoff) && m.inflight[id] == 0 {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run prunes idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(idle); n > 0 {
				m.logger.Debug("pruned idle sessions", "count", n)
			}
		}
	}
}
