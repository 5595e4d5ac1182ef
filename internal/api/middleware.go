package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/flitterhq/auth-service/internal/models"
	"github.com/flitterhq/auth-service/internal/service"
	storageredis "github.com/flitterhq/auth-service/internal/storage/redis"
)

// AuthGateMiddleware guards protected routes. Both credentials are required:
// the bearer access token and the signed refresh cookie. Any failure
// short-circuits the pipeline with the collapsed unauthorized error; no
// handler runs with a partially resolved identity.
func AuthGateMiddleware(auth *service.AuthService, transport *Transport) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bearer, ok := DecodeBearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return service.ErrUnauthorized
			}

			refreshToken, ok := transport.ReadRefreshToken(c.Request())
			if !ok {
				return service.ErrUnauthorized
			}

			user, err := auth.Authenticate(c.Request().Context(), bearer, refreshToken)
			if err != nil {
				return err
			}

			c.Set(models.UserContextKey, user)
			return next(c)
		}
	}
}

// UserFromContext returns the identity resolved by the auth gate.
func UserFromContext(c echo.Context) (*models.User, bool) {
	user, ok := c.Get(models.UserContextKey).(*models.User)
	return user, ok
}

// RateLimitMiddleware throttles the credential endpoints per client IP. A
// limiter failure is a server error on purpose: availability problems must
// not open or close the gate silently.
func RateLimitMiddleware(limiter *storageredis.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, err := limiter.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				return err
			}
			if !allowed {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}

func GetLoggerMiddlewareConfig(a *API) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", c.Request().Method,
				"uri", v.URI,
				"status", v.Status,
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				a.log.Errorw("Request", fields...)
			} else {
				a.log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
