package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/zahareus/telegram-transcriber-bot/access"
	pgstore "github.com/zahareus/telegram-transcriber-bot/access/postgres"
	redisstore "github.com/zahareus/telegram-transcriber-bot/access/redis"
	sqlitestore "github.com/zahareus/telegram-transcriber-bot/access/sqlite"
	"github.com/zahareus/telegram-transcriber-bot/config"
	"github.com/zahareus/telegram-transcriber-bot/db"
)

// openStore connects the configured access store. The returned func
// releases it.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (access.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return access.NewMemoryStore(), func() {}, nil

	case config.StoreSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		writer := db.NewWorker(sqlDB)
		logger.Info("sqlite store", "path", cfg.DatabasePath)
		return sqlitestore.New(sqlDB, writer), func() {
			writer.Close()
			if err := sqlDB.Close(); err != nil {
				logger.Warn("close sqlite", "error", err)
			}
		}, nil

	case config.StorePostgres:
		pool, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("postgres store", "host", pool.Config().ConnConfig.Host)
		return pgstore.New(pool), pool.Close, nil

	case config.StoreRedis:
		client, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("redis store", "addr", client.Options().Addr)
		return redisstore.New(client, redisstore.DefaultKeyPrefix), func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
