package counter

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dailyfactoid/factoid/pkg/config"
)

// NewStore builds the counter store for the given configuration. With no
// Redis configured the store is purely in-process, which is fine for a
// single replica.
func NewStore(cfg *config.RedisConfig, logger *slog.Logger) Store {
	if cfg == nil || cfg.Addr == "" {
		return NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return NewFallbackStore(NewRedisStore(client), cfg.OpTimeout, logger)
}
