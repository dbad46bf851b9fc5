package events

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/unitledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("events",
	fx.Provide(NewRedisClient),
	fx.Provide(NewOutbox),
	fx.Provide(NewPublisher),
	fx.Invoke(runPublisher),
)

// NewRedisClient returns nil when Redis is not configured; consumers are
// nil-safe and degrade to database-only behavior.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
