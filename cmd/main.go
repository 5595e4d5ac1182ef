package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/flitterhq/auth-service/internal/api"
	"github.com/flitterhq/auth-service/internal/controller"
	"github.com/flitterhq/auth-service/internal/migrations"
	"github.com/flitterhq/auth-service/internal/service"
	"github.com/flitterhq/auth-service/internal/storage/postgres"
	storageredis "github.com/flitterhq/auth-service/internal/storage/redis"
	"github.com/flitterhq/auth-service/internal/util"

	_ "github.com/lib/pq"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger()

	db, dbCleanup, err := util.NewDBConnection(logger)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	if err := migrations.RunMigrations(db, logger, "./internal/migrations"); err != nil {
		logger.Fatal(zap.Error(err))
	}

	redisClient, redisCleanup, err := util.NewRedisClient(logger, util.NewRedisConfig())
	if err != nil {
		logger.Fatal(zap.Error(err))
	}

	cleanupFuncs := []func(){dbCleanup, redisCleanup}

	tokenConfig := util.NewTokenConfig()
	store := postgres.NewStorage(db)
	authService := service.NewAuthService(tokenConfig, store, logger)

	transport := api.NewTransport(util.NewCookieConfig(), tokenConfig.AccessTTL, tokenConfig.RefreshTTL)

	limiterConfig := util.NewRateLimiterConfig()
	limiter := storageredis.NewRateLimiter(redisClient, limiterConfig.Limit, limiterConfig.Interval, limiterConfig.BlockTime)

	ctrl := controller.NewController(logger, authService, transport)

	apiServer := api.NewAPI(
		ctrl,
		authService,
		transport,
		limiter,
		util.NewServerConfig(),
		tokenConfig.SweepInterval,
		logger,
		cleanupFuncs,
	)
	apiServer.Run(ctx)
}
