package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitterhq/auth-service/internal/storage/memory"
	storageredis "github.com/flitterhq/auth-service/internal/storage/redis"
)

func newLimitedAPI(t *testing.T, limit int) (*API, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := storageredis.NewRateLimiter(client, limit, time.Minute, 5*time.Minute)
	return newTestAPI(t, memory.NewStorage(), 15*time.Minute, limiter), mr
}

func TestLoginRateLimited(t *testing.T) {
	a, mr := newLimitedAPI(t, 2)

	body := `{"username":"nobody","password":"wrong"}`

	for i := 0; i < 2; i++ {
		rec := doJSON(a, http.MethodPost, "/api/auth/login", body, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "request %d", i)
	}

	rec := doJSON(a, http.MethodPost, "/api/auth/login", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Routes outside the limited group are unaffected.
	rec = doJSON(a, http.MethodPost, "/api/auth/verify-token", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	mr.FastForward(6 * time.Minute)

	rec = doJSON(a, http.MethodPost, "/api/auth/login", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiterFailureIsServerError(t *testing.T) {
	a, mr := newLimitedAPI(t, 2)
	mr.Close()

	rec := doJSON(a, http.MethodPost, "/api/auth/login", `{"username":"x","password":"y"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
