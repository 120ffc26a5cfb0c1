package jobs

import (
	"context"
	"fmt"

	"github.com/coah80/enhancer/internal/config"
)

// Open returns the registry selected by cfg.Backend.
func Open(ctx context.Context, cfg config.Registry) (Registry, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryRegistry(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "redis":
		return OpenRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
