package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/flitterhq/auth-service/internal/models"
	"github.com/flitterhq/auth-service/internal/service"
	"github.com/flitterhq/auth-service/internal/storage"
)

// CookieWriter is the transport side of issuance: it emits and clears the
// refresh/access cookie pair. Implemented by api.Transport; injected here so
// the controller and the auth gate share one cookie definition.
type CookieWriter interface {
	SetAuthCookies(c echo.Context, pair *service.TokenPair)
	ClearAuthCookies(c echo.Context)
	ReadRefreshToken(r *http.Request) (string, bool)
}

type Controller struct {
	log         *zap.SugaredLogger
	authService *service.AuthService
	cookies     CookieWriter
}

func NewController(log *zap.SugaredLogger, authService *service.AuthService, cookies CookieWriter) *Controller {
	return &Controller{
		log:         log,
		authService: authService,
		cookies:     cookies,
	}
}

// (GET /api/ping).
func (ct *Controller) CheckServer(c echo.Context) error {
	return c.JSON(http.StatusOK, "ok")
}

// (POST /api/auth/signup).
func (ct *Controller) Signup(c echo.Context) error {
	var req models.SignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username, email and password are required")
	}

	user, pair, err := ct.authService.Signup(c.Request().Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return echo.NewHTTPError(http.StatusConflict, "username or email already taken")
		}
		return err
	}

	return ct.respondWithPair(c, user, pair)
}

// (POST /api/auth/login).
func (ct *Controller) Login(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	user, pair, err := ct.authService.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}

	return ct.respondWithPair(c, user, pair)
}

// (POST /api/auth/verify-token).
// Silent refresh. An absent or untrusted refresh cookie answers 204 so the
// client can tell "not logged in" from a hard failure.
func (ct *Controller) VerifyToken(c echo.Context) error {
	refreshToken, _ := ct.cookies.ReadRefreshToken(c.Request())

	user, pair, err := ct.authService.Refresh(c.Request().Context(), refreshToken)
	if err != nil {
		if errors.Is(err, service.ErrNoSession) {
			ct.cookies.ClearAuthCookies(c)
			return c.NoContent(http.StatusNoContent)
		}
		return err
	}

	return ct.respondWithPair(c, user, pair)
}

// (POST /api/auth/logout).
func (ct *Controller) Logout(c echo.Context) error {
	refreshToken, _ := ct.cookies.ReadRefreshToken(c.Request())

	if err := ct.authService.Logout(c.Request().Context(), refreshToken); err != nil {
		return err
	}

	ct.cookies.ClearAuthCookies(c)
	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

// (GET /api/users/me). Runs behind the auth gate.
func (ct *Controller) Me(c echo.Context) error {
	user, ok := c.Get(models.UserContextKey).(*models.User)
	if !ok {
		// The gate guarantees this never happens on a wired route.
		return service.ErrUnauthorized
	}
	return c.JSON(http.StatusOK, user)
}

func (ct *Controller) respondWithPair(c echo.Context, user *models.User, pair *service.TokenPair) error {
	ct.cookies.SetAuthCookies(c, pair)
	return c.JSON(http.StatusOK, models.AuthResponse{
		User:        user,
		AccessToken: pair.AccessToken,
		ExpiresAt:   pair.ExpiresAt,
	})
}
