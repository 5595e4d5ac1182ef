package util

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

const connectProbeTimeout = 5 * time.Second

type DBConfig struct {
	DSN string
}

func NewDBConfig() *DBConfig {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	return &DBConfig{DSN: dsn}
}

type RedisConfig struct {
	Addr string
}

func NewRedisConfig() *RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Fatal("REDIS_ADDR is not set")
	}

	return &RedisConfig{Addr: addr}
}

// NewDBConnection opens the session database and verifies it is reachable.
// The returned cleanup closes the pool.
func NewDBConnection(logger *zap.SugaredLogger) (*sql.DB, func(), error) {
	dbConfig := NewDBConfig()
	db, err := sql.Open("postgres", dbConfig.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("connected to postgres")

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Errorw("closing postgres pool", "error", err)
		}
	}

	return db, cleanup, nil
}

// NewRedisClient dials the rate-limiter backend. The address is probed at
// startup so a bad REDIS_ADDR fails the boot instead of every limited request.
func NewRedisClient(logger *zap.SugaredLogger, cfg *RedisConfig) (*redis.Client, func(), error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	ctx, cancel := context.WithTimeout(context.Background(), connectProbeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("connected to redis")

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Errorw("closing redis client", "error", err)
		}
	}

	return client, cleanup, nil
}
