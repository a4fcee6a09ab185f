package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSessionTTL bounds how long idle session history is kept in Redis.
const DefaultSessionTTL = 24 * time.Hour

// MemoryStore keeps session turns in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Turn)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.sessions[sessionID]...), nil
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append([]Turn(nil), turns...)
	return nil
}

// RedisStore keeps session turns in Redis with a sliding TTL.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("chat: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("doctorbot.internal.chat.store"),
	}
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, turns []Turn) error {
	ctx, span := s.tracer.Start(ctx, "chat.save_session")
	defer span.End()

	data, err := json.Marshal(turns)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: failed to marshal turns: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sessionID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: failed to persist turns: %w", err)
	}
	return nil
}

// Load returns the stored turns, or none for an unknown session.
func (s *RedisStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, span := s.tracer.Start(ctx, "chat.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: failed to load turns: %w", err)
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: failed to decode turns: %w", err)
	}
	return turns, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("chat:session:%s", id)
}
