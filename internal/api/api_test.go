package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flitterhq/auth-service/internal/controller"
	"github.com/flitterhq/auth-service/internal/models"
	"github.com/flitterhq/auth-service/internal/service"
	"github.com/flitterhq/auth-service/internal/storage"
	"github.com/flitterhq/auth-service/internal/storage/memory"
	storageredis "github.com/flitterhq/auth-service/internal/storage/redis"
	"github.com/flitterhq/auth-service/internal/util"
)

func newTestAPI(t *testing.T, store storage.Storage, accessTTL time.Duration, limiter *storageredis.RateLimiter) *API {
	t.Helper()

	log := zap.NewNop().Sugar()
	tokenCfg := &util.TokenConfig{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessTTL:     accessTTL,
		RefreshTTL:    24 * time.Hour,
	}
	authService := service.NewAuthService(tokenCfg, store, log)
	transport := NewTransport(
		&util.CookieConfig{SigningSecret: []byte("test-cookie-secret"), Secure: false},
		tokenCfg.AccessTTL,
		tokenCfg.RefreshTTL,
	)
	ctrl := controller.NewController(log, authService, transport)

	serverCfg := &util.ServerConfig{
		ServerAddr:      "localhost:0",
		WriteTimeout:    time.Second,
		ReadTimeout:     time.Second,
		IdleTimeout:     time.Second,
		GracefulTimeout: time.Second,
	}
	a := NewAPI(ctrl, authService, transport, limiter, serverCfg, time.Hour, log, nil)
	a.RegisterRoutes()
	return a
}

type authArtifacts struct {
	response models.AuthResponse
	refresh  *http.Cookie
	access   *http.Cookie
}

func doJSON(a *API, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func signup(t *testing.T, a *API, username, email string) authArtifacts {
	t.Helper()

	rec := doJSON(a, http.MethodPost, "/api/auth/signup",
		`{"username":"`+username+`","email":"`+email+`","password":"hunter22"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	return parseAuthArtifacts(t, rec)
}

func parseAuthArtifacts(t *testing.T, rec *httptest.ResponseRecorder) authArtifacts {
	t.Helper()

	var art authArtifacts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &art.response))
	require.NotEmpty(t, art.response.AccessToken)
	require.NotNil(t, art.response.User)

	for _, ck := range rec.Result().Cookies() {
		switch ck.Name {
		case RefreshCookieName:
			art.refresh = ck
		case AccessCookieName:
			art.access = ck
		}
	}
	require.NotNil(t, art.refresh)
	require.NotNil(t, art.access)
	return art
}

func withAuth(art authArtifacts) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set(echo.HeaderAuthorization, EncodeBearer(art.response.AccessToken))
		req.AddCookie(art.refresh)
	}
}

func TestLoginProtectedLogoutScenario(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, memory.NewStorage(), 15*time.Minute, nil)

	art := signup(t, a, "wanda", "wanda@example.com")

	// Login again with the created credentials.
	rec := doJSON(a, http.MethodPost, "/api/auth/login", `{"username":"wanda","password":"hunter22"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	art = parseAuthArtifacts(t, rec)

	// Protected route with both credentials resolves the identity.
	rec = doJSON(a, http.MethodGet, "/api/users/me", "", withAuth(art))
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "wanda", me.Username)

	// Logout, then the exact same credentials must be rejected.
	rec = doJSON(a, http.MethodPost, "/api/auth/logout", "", func(req *http.Request) {
		req.AddCookie(art.refresh)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	for _, ck := range rec.Result().Cookies() {
		assert.Empty(t, ck.Value)
	}

	rec = doJSON(a, http.MethodGet, "/api/users/me", "", withAuth(art))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"reason":"unauthorized"}`, rec.Body.String())
}

func TestProtectedRouteSingleCredentialFails(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, memory.NewStorage(), 15*time.Minute, nil)
	art := signup(t, a, "wanda", "wanda@example.com")

	// Bearer only.
	rec := doJSON(a, http.MethodGet, "/api/users/me", "", func(req *http.Request) {
		req.Header.Set(echo.HeaderAuthorization, EncodeBearer(art.response.AccessToken))
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Cookie only.
	rec = doJSON(a, http.MethodGet, "/api/users/me", "", func(req *http.Request) {
		req.AddCookie(art.refresh)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Nothing.
	rec = doJSON(a, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Tampered cookie signature.
	rec = doJSON(a, http.MethodGet, "/api/users/me", "", func(req *http.Request) {
		req.Header.Set(echo.HeaderAuthorization, EncodeBearer(art.response.AccessToken))
		req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: art.refresh.Value + "x"})
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredAccessTokenIsNotAutoRefreshed(t *testing.T) {
	t.Parallel()

	// Access tokens are born expired; the refresh session stays valid.
	a := newTestAPI(t, memory.NewStorage(), -time.Second, nil)
	art := signup(t, a, "wanda", "wanda@example.com")

	rec := doJSON(a, http.MethodGet, "/api/users/me", "", withAuth(art))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The session is alive: silent refresh still works, the gate does not.
	rec = doJSON(a, http.MethodPost, "/api/auth/verify-token", "", func(req *http.Request) {
		req.AddCookie(art.refresh)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyTokenWithoutCookieIsNoContent(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, memory.NewStorage(), 15*time.Minute, nil)

	rec := doJSON(a, http.MethodPost, "/api/auth/verify-token", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestVerifyTokenRotation(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, memory.NewStorage(), 15*time.Minute, nil)
	oldArt := signup(t, a, "wanda", "wanda@example.com")

	rec := doJSON(a, http.MethodPost, "/api/auth/verify-token", "", func(req *http.Request) {
		req.AddCookie(oldArt.refresh)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	newArt := parseAuthArtifacts(t, rec)
	assert.NotEqual(t, oldArt.response.AccessToken, newArt.response.AccessToken)
	assert.NotEqual(t, oldArt.refresh.Value, newArt.refresh.Value)

	// The rotated-in pair works; the retired one does not.
	rec = doJSON(a, http.MethodGet, "/api/users/me", "", withAuth(newArt))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(a, http.MethodGet, "/api/users/me", "", withAuth(oldArt))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDuplicateSignupConflicts(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, memory.NewStorage(), 15*time.Minute, nil)
	signup(t, a, "wanda", "wanda@example.com")

	rec := doJSON(a, http.MethodPost, "/api/auth/signup",
		`{"username":"wanda","email":"wanda@example.com","password":"hunter22"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBadLoginIsUnauthorized(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, memory.NewStorage(), 15*time.Minute, nil)
	signup(t, a, "wanda", "wanda@example.com")

	rec := doJSON(a, http.MethodPost, "/api/auth/login", `{"username":"wanda","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"reason":"unauthorized"}`, rec.Body.String())
}

type failingSessionStorage struct {
	*memory.Storage
}

func (f *failingSessionStorage) FindSessionByToken(context.Context, string) (*models.Session, error) {
	return nil, errors.New("storage timeout")
}

func TestStorageFailureIsServerErrorNotUnauthorized(t *testing.T) {
	t.Parallel()

	store := &failingSessionStorage{Storage: memory.NewStorage()}
	a := newTestAPI(t, store, 15*time.Minute, nil)
	art := signup(t, a, "wanda", "wanda@example.com")

	rec := doJSON(a, http.MethodGet, "/api/users/me", "", withAuth(art))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Internal error text must not leak.
	assert.JSONEq(t, `{"reason":"internal server error"}`, rec.Body.String())
}
