package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flitterhq/auth-service/internal/service"
	"github.com/flitterhq/auth-service/internal/util"
)

const (
	bearerPrefix = "Bearer "

	RefreshCookieName = "refreshToken"
	AccessCookieName  = "accessToken"

	cookieSigSeparator = "|"
)

// EncodeBearer formats a token for the Authorization header.
func EncodeBearer(token string) string {
	return bearerPrefix + token
}

// DecodeBearer extracts the token from an Authorization header value.
func DecodeBearer(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		return "", false
	}
	return token, true
}

// CookieSpec fixes the attributes of a transport cookie so issuance and
// verification share one definition and cannot drift.
type CookieSpec struct {
	Name     string
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
	Signed   bool
	TTL      time.Duration
}

// Transport is the codec for the two auth transport artifacts: the bearer
// header and the cookie pair. Signed cookie values carry an HMAC-SHA256 tag;
// a cookie whose tag does not verify is treated as absent.
type Transport struct {
	signingSecret []byte
	secure        bool
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTransport(cfg *util.CookieConfig, accessTTL, refreshTTL time.Duration) *Transport {
	return &Transport{
		signingSecret: cfg.SigningSecret,
		secure:        cfg.Secure,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (t *Transport) RefreshCookieSpec() CookieSpec {
	return CookieSpec{
		Name:     RefreshCookieName,
		HTTPOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
		Signed:   true,
		TTL:      t.refreshTTL,
	}
}

// AccessCookieSpec describes the readable mirror of the access token kept for
// same-site clients; the authoritative copy travels in the bearer header.
func (t *Transport) AccessCookieSpec() CookieSpec {
	return CookieSpec{
		Name:     AccessCookieName,
		HTTPOnly: false,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
		Signed:   false,
		TTL:      t.accessTTL,
	}
}

// SetAuthCookies writes both cookies for a freshly issued pair.
func (t *Transport) SetAuthCookies(c echo.Context, pair *service.TokenPair) {
	t.setCookie(c, t.RefreshCookieSpec(), pair.RefreshToken)
	t.setCookie(c, t.AccessCookieSpec(), pair.AccessToken)
}

// ClearAuthCookies expires both cookies.
func (t *Transport) ClearAuthCookies(c echo.Context) {
	t.clearCookie(c, t.RefreshCookieSpec())
	t.clearCookie(c, t.AccessCookieSpec())
}

// ReadRefreshToken returns the refresh token from the signed cookie. A
// missing cookie and a cookie with a bad signature are indistinguishable.
func (t *Transport) ReadRefreshToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return "", false
	}
	return t.verifySignedValue(cookie.Value)
}

func (t *Transport) setCookie(c echo.Context, spec CookieSpec, value string) {
	if spec.Signed {
		value = t.signValue(value)
	}
	// MaxAge alone carries the lifetime; a wall-clock Expires could disagree
	// with the token expiry the issuing clock produced.
	c.SetCookie(&http.Cookie{
		Name:     spec.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(spec.TTL.Seconds()),
		HttpOnly: spec.HTTPOnly,
		Secure:   spec.Secure,
		SameSite: spec.SameSite,
	})
}

func (t *Transport) clearCookie(c echo.Context, spec CookieSpec) {
	c.SetCookie(&http.Cookie{
		Name:     spec.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: spec.HTTPOnly,
		Secure:   spec.Secure,
		SameSite: spec.SameSite,
	})
}

func (t *Transport) signValue(value string) string {
	return value + cookieSigSeparator + t.computeTag(value)
}

func (t *Transport) verifySignedValue(signed string) (string, bool) {
	idx := strings.LastIndex(signed, cookieSigSeparator)
	if idx < 0 {
		return "", false
	}
	value, tag := signed[:idx], signed[idx+1:]

	expected := t.computeTag(value)
	if subtle.ConstantTimeCompare([]byte(tag), []byte(expected)) != 1 {
		return "", false
	}
	return value, true
}

func (t *Transport) computeTag(value string) string {
	mac := hmac.New(sha256.New, t.signingSecret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
