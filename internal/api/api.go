package api

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/flitterhq/auth-service/internal/controller"
	"github.com/flitterhq/auth-service/internal/service"
	storageredis "github.com/flitterhq/auth-service/internal/storage/redis"
	"github.com/flitterhq/auth-service/internal/util"
)

const shutdownTimeout = 5 * time.Second

type API struct {
	server          *echo.Echo
	controller      *controller.Controller
	auth            *service.AuthService
	transport       *Transport
	limiter         *storageredis.RateLimiter
	log             *zap.SugaredLogger
	gracefulTimeout time.Duration
	sweepInterval   time.Duration
	cleanupFuncs    []func()
}

func NewAPI(
	c *controller.Controller,
	auth *service.AuthService,
	transport *Transport,
	limiter *storageredis.RateLimiter,
	sc *util.ServerConfig,
	sweepInterval time.Duration,
	l *zap.SugaredLogger,
	cleanupFuncs []func(),
) *API {
	e := echo.New()

	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.HTTPErrorHandler = ErrorHandler(l)

	return &API{
		server:          e,
		controller:      c,
		auth:            auth,
		transport:       transport,
		limiter:         limiter,
		log:             l,
		gracefulTimeout: sc.GracefulTimeout,
		sweepInterval:   sweepInterval,
		cleanupFuncs:    cleanupFuncs,
	}
}

// RegisterRoutes wires the public and protected route groups. Exported so
// tests can mount the same tree on a bare echo instance.
func (a *API) RegisterRoutes() {
	g := a.server.Group("/api")
	g.GET("/ping", a.controller.CheckServer)

	auth := g.Group("/auth")
	if a.limiter != nil {
		auth.POST("/signup", a.controller.Signup, RateLimitMiddleware(a.limiter))
		auth.POST("/login", a.controller.Login, RateLimitMiddleware(a.limiter))
	} else {
		auth.POST("/signup", a.controller.Signup)
		auth.POST("/login", a.controller.Login)
	}
	auth.POST("/verify-token", a.controller.VerifyToken)
	auth.POST("/logout", a.controller.Logout)

	protected := g.Group("/users", AuthGateMiddleware(a.auth, a.transport))
	protected.GET("/me", a.controller.Me)
}

// Handler exposes the route tree for tests and embedding servers.
func (a *API) Handler() http.Handler { return a.server }

func (a *API) Run(ctxBackground context.Context) {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.server.Use(echomiddleware.RequestLoggerWithConfig(GetLoggerMiddlewareConfig(a)))
	a.RegisterRoutes()

	go a.auth.RunSessionSweeper(ctx, a.sweepInterval)

	a.ListenGracefulShutdown(ctx)
}

func (a *API) ListenGracefulShutdown(ctx context.Context) {
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	<-ctx.Done()
	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("shutdown: %v", err)
	}

	longShutdown := make(chan struct{}, 1)

	go func() {
		time.Sleep(a.gracefulTimeout)
		longShutdown <- struct{}{}
	}()

	select {
	case <-shutdownCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			a.log.Info("server shutdown completed")
		} else {
			a.log.Errorf("server shutdown: %v", ctx.Err())
		}
	case <-longShutdown:
		a.log.Infof("finished")
	}

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
}
