package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/flitterhq/auth-service/internal/models"
	"github.com/flitterhq/auth-service/internal/storage"
	"github.com/flitterhq/auth-service/internal/util"
)

// ErrUnauthorized is the single outward-facing authentication failure. Every
// internal branch (missing credential, bad signature, expired token, revoked
// session, deleted user, anchor mismatch) collapses into it so the response
// never reveals which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoSession reports that a refresh credential was simply absent; the
// silent-refresh endpoint maps it to an empty success rather than a 401.
var ErrNoSession = errors.New("no active session")

// TokenPair is the product of one issuance: the two transport credentials and
// the access token's expiry the client schedules its refresh against.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type AuthService struct {
	accessCodec  *TokenCodec
	refreshCodec *TokenCodec
	storage      storage.Storage
	log          *zap.SugaredLogger
	now          func() time.Time
}

func NewAuthService(cfg *util.TokenConfig, store storage.Storage, log *zap.SugaredLogger) *AuthService {
	return &AuthService{
		accessCodec:  NewTokenCodec(cfg.AccessSecret, cfg.AccessTTL),
		refreshCodec: NewTokenCodec(cfg.RefreshSecret, cfg.RefreshTTL),
		storage:      store,
		log:          log,
		now:          time.Now,
	}
}

func (s *AuthService) AccessTTL() time.Duration  { return s.accessCodec.TTL() }
func (s *AuthService) RefreshTTL() time.Duration { return s.refreshCodec.TTL() }

// Signup registers a new user and logs them in.
func (s *AuthService) Signup(ctx context.Context, username, email, password string) (*models.User, *TokenPair, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.storage.CreateUser(ctx, username, email, string(hash))
	if err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	pair, err := s.Issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login verifies credentials and issues a fresh token pair. Unknown username
// and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.User, *TokenPair, error) {
	user, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrUnauthorized
	}

	pair, err := s.Issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Issue mints an access/refresh pair for userID and persists the refresh
// token as a new session row. It is additive: concurrent calls for the same
// user each create their own row, one per device or tab.
func (s *AuthService) Issue(ctx context.Context, userID int64) (*TokenPair, error) {
	if _, err := s.storage.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Account deleted between authentication and issuance.
			s.log.Warnw("issuing tokens for missing user", "userID", userID)
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	now := s.now()

	refreshToken, refreshExpiry, err := s.refreshCodec.Sign(userID, now)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	accessToken, accessExpiry, err := s.accessCodec.Sign(userID, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	session := &models.Session{
		UserID:       userID,
		RefreshToken: refreshToken,
		ExpiresAt:    refreshExpiry,
		CreatedAt:    now,
	}
	if err := s.storage.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExpiry,
	}, nil
}

// Authenticate is the request-time verification state machine. The session
// row is checked before the access token so that revocation wins even while
// the access token is still cryptographically valid; only then is the access
// token verified (its expiry is the normal "client must refresh" rejection),
// and finally the identity must still exist and match the session owner.
func (s *AuthService) Authenticate(ctx context.Context, accessToken, refreshToken string) (*models.User, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, ErrUnauthorized
	}

	now := s.now()

	session, err := s.storage.FindSessionByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	if !session.ExpiresAt.After(now) {
		return nil, ErrUnauthorized
	}

	refreshUserID, err := s.refreshCodec.Verify(refreshToken, now)
	if err != nil || refreshUserID != session.UserID {
		return nil, ErrUnauthorized
	}

	accessUserID, err := s.accessCodec.Verify(accessToken, now)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if accessUserID != session.UserID {
		// Bearer and cookie belong to different identities; fail closed.
		return nil, ErrUnauthorized
	}

	user, err := s.storage.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.log.Warnw("session references deleted user", "userID", session.UserID)
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// Refresh exchanges a valid refresh token for a fresh pair, retiring the
// presented session row. An absent or untrusted token yields ErrNoSession so
// the caller can answer with no-content instead of a hard rejection.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.User, *TokenPair, error) {
	if refreshToken == "" {
		return nil, nil, ErrNoSession
	}

	now := s.now()

	userID, err := s.refreshCodec.Verify(refreshToken, now)
	if err != nil {
		return nil, nil, ErrNoSession
	}

	session, err := s.storage.FindSessionByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, nil, ErrNoSession
		}
		return nil, nil, fmt.Errorf("find session: %w", err)
	}
	if session.UserID != userID || !session.ExpiresAt.After(now) {
		return nil, nil, ErrNoSession
	}

	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.log.Warnw("refresh for deleted user", "userID", userID)
			return nil, nil, ErrNoSession
		}
		return nil, nil, fmt.Errorf("get user: %w", err)
	}

	// The replacement is minted before the presented row is retired. If the
	// retire step fails the old row survives until the sweeper catches it;
	// failing mid-rotation must never leave the client with no session at all.
	pair, err := s.Issue(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.storage.DeleteSession(ctx, refreshToken); err != nil {
		return nil, nil, fmt.Errorf("retire session: %w", err)
	}
	return user, pair, nil
}

// Logout invalidates the presented session. The signed token stays
// cryptographically valid until its natural expiry; deleting the row is what
// revokes it.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.storage.DeleteSession(ctx, refreshToken); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// LogoutAll force-revokes every session of a user (admin sign-out).
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.storage.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// SweepExpiredSessions deletes rows whose expiry has passed; one pass.
func (s *AuthService) SweepExpiredSessions(ctx context.Context) (int64, error) {
	deleted, err := s.storage.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return deleted, nil
}

// RunSessionSweeper periodically removes expired session rows until ctx is
// cancelled. Rotation already retires rows it replaces; the sweeper catches
// sessions abandoned without a logout.
func (s *AuthService) RunSessionSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.SweepExpiredSessions(ctx)
			if err != nil {
				s.log.Errorw("session sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				s.log.Infow("session sweep", "deleted", deleted)
			}
		}
	}
}
