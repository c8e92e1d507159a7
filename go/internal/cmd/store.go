package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/store"
)

// setupStore builds the room store for the configured backend. Memory is the
// single-instance default; postgres and redis both support multiple server
// instances sharing one room set.
func setupStore(ctx context.Context, config *Config) (store.RoomStore, error) {
	switch config.Store.Backend {
	case "memory":
		log.Info().Msg("using in-memory room store")
		return store.NewMemoryStore(), nil

	case "postgres":
		st, err := store.NewPostgresStore(ctx, config.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("setup postgres store: %w", err)
		}
		log.Info().
			Str("host", config.Store.Postgres.Host).
			Str("database", config.Store.Postgres.Database).
			Msg("using postgres room store")
		return st, nil

	case "redis":
		st, err := store.NewRedisStore(ctx, config.Store.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("setup redis store: %w", err)
		}
		log.Info().Str("addr", config.Store.RedisAddr).Msg("using redis room store")
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}
}
