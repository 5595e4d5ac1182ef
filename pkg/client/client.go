// Package client is a Go client for the auth service that keeps a login
// alive the way the browser app does: it re-establishes identity from a
// surviving refresh cookie at start, then silently refreshes shortly before
// each access token expires so the server never sees an expired bearer
// during normal use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/flitterhq/auth-service/internal/models"
)

// DefaultRefreshLead is how long before the access token's expiry the next
// silent refresh fires.
const DefaultRefreshLead = 10 * time.Second

type Client struct {
	baseURL     string
	httpClient  *http.Client
	refreshLead time.Duration

	mu          sync.Mutex
	user        *models.User
	accessToken string
	expiresAt   time.Time
	timer       *time.Timer
}

type Option func(*Client)

// WithRefreshLead overrides the pre-expiry refresh margin; tests shrink it.
func WithRefreshLead(lead time.Duration) Option {
	return func(c *Client) { c.refreshLead = lead }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Jar: jar, Timeout: 10 * time.Second},
		refreshLead: DefaultRefreshLead,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	return c, nil
}

// Start performs the initial silent refresh. Not being logged in is not an
// error; the client simply stays unauthenticated.
func (c *Client) Start(ctx context.Context) error {
	return c.VerifyToken(ctx)
}

// Close cancels the refresh timer without contacting the server.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(models.LoginRequest{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}
	return c.postAuth(ctx, "/api/auth/login", body)
}

func (c *Client) Signup(ctx context.Context, username, email, password string) error {
	body, err := json.Marshal(models.SignupRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("marshal signup request: %w", err)
	}
	return c.postAuth(ctx, "/api/auth/signup", body)
}

// VerifyToken calls the silent-refresh endpoint. Any outcome other than a
// fresh token pair clears local identity, per the protocol: an issuance
// failure is an implicit logout.
func (c *Client) VerifyToken(ctx context.Context) error {
	resp, err := c.post(ctx, "/api/auth/verify-token", nil)
	if err != nil {
		c.clearState()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		c.clearState()
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		c.clearState()
		return fmt.Errorf("verify-token: unexpected status %d", resp.StatusCode)
	}

	return c.applyAuthResponse(resp.Body)
}

func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.post(ctx, "/api/auth/logout", nil)
	if err != nil {
		c.clearState()
		return err
	}
	defer resp.Body.Close()

	c.clearState()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Do sends an authenticated request, attaching the bearer header; cookies
// ride along via the jar.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.httpClient.Do(req)
}

func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken != ""
}

func (c *Client) CurrentUser() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) postAuth(ctx context.Context, path string, body []byte) error {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.clearState()
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return c.applyAuthResponse(resp.Body)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) applyAuthResponse(body io.Reader) error {
	var auth models.AuthResponse
	if err := json.NewDecoder(body).Decode(&auth); err != nil {
		c.clearState()
		return fmt.Errorf("decode auth response: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.user = auth.User
	c.accessToken = auth.AccessToken
	c.expiresAt = auth.ExpiresAt
	c.scheduleRefreshLocked()
	return nil
}

// scheduleRefreshLocked re-arms the timer to fire refreshLead before the
// known expiry. Any earlier timer is cancelled first so rotation, login and
// logout each leave exactly one (or zero) pending refresh.
func (c *Client) scheduleRefreshLocked() {
	c.stopTimerLocked()

	delay := time.Until(c.expiresAt) - c.refreshLead
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, func() {
		// Errors clear local state inside VerifyToken already.
		_ = c.VerifyToken(context.Background())
	})
}

func (c *Client) clearState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.user = nil
	c.accessToken = ""
	c.expiresAt = time.Time{}
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
