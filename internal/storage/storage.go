package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flitterhq/auth-service/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
)

type Storage interface {
	SessionRepository
	UserRepository
}

// SessionRepository is the single source of truth for issued refresh tokens.
// Absence is reported with ErrSessionNotFound; every other error is a storage
// failure and must never be treated as unauthorized.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.Session) error
	FindSessionByToken(ctx context.Context, refreshToken string) (*models.Session, error)
	DeleteSession(ctx context.Context, refreshToken string) error
	DeleteAllUserSessions(ctx context.Context, userID int64) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
