package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/oceanquake/cmd/hypersearch/config"
	"github.com/HatiCode/oceanquake/pkg/storage"
)

// newStore opens the configured trial store. The returned release function
// stops or closes it.
func newStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage {
	case "redis":
		store, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("using redis trial store", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.RedisTTL)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}, nil
	default:
		var store *storage.MemoryStore
		if cfg.MemoryTTL > 0 {
			store = storage.NewMemoryStoreWithTTL(cfg.MemoryTTL, min(cfg.MemoryTTL, time.Minute))
		} else {
			store = storage.NewMemoryStore()
		}
		logger.Info("using in-memory trial store", "store", store.String(), "ttl", cfg.MemoryTTL)
		return store, store.Stop, nil
	}
}
