package cache

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/tripdeal/bargain/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedisClient opens the shared redis client used for the session fast
// cache, the rate-context cache and per-session locks.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})

	if lc != nil {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					log.Warn("redis ping failed", zap.Error(err))
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				_ = ctx
				return client.Close()
			},
		})
	}

	return client
}

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
)
