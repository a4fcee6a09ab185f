package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/doctor-appointment-assistant/internal/chat"
	appconfig "github.com/wolfman30/doctor-appointment-assistant/internal/config"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSessionStore returns the Redis session store when a client is available
// and the in-memory store otherwise.
func BuildSessionStore(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) chat.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient == nil {
		logger.Info("chat sessions kept in memory")
		return chat.NewMemoryStore()
	}
	ttl := chat.DefaultSessionTTL
	if cfg != nil && cfg.SessionTTL > 0 {
		ttl = cfg.SessionTTL
	}
	logger.Info("chat sessions kept in redis", "ttl", ttl.String())
	return chat.NewRedisStore(redisClient, ttl)
}
