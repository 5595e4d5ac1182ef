package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flitterhq/auth-service/internal/models"
	"github.com/flitterhq/auth-service/internal/storage"
)

// Storage is an in-memory implementation of storage.Storage used by tests.
type Storage struct {
	mu       sync.RWMutex
	nextID   int64
	users    map[int64]models.User
	sessions map[string]models.Session
}

func NewStorage() *Storage {
	return &Storage{
		users:    make(map[int64]models.User),
		sessions: make(map[string]models.Session),
	}
}

func (m *Storage) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.RefreshToken]; ok {
		return storage.ErrSessionExists
	}
	m.nextID++
	session.ID = m.nextID
	m.sessions[session.RefreshToken] = *session

	return nil
}

func (m *Storage) FindSessionByToken(_ context.Context, refreshToken string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[refreshToken]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return &session, nil
}

func (m *Storage) DeleteSession(_ context.Context, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, refreshToken)
	return nil
}

func (m *Storage) DeleteAllUserSessions(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for token, session := range m.sessions {
		if session.UserID == userID {
			delete(m.sessions, token)
		}
	}
	return nil
}

func (m *Storage) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for token, session := range m.sessions {
		if !session.ExpiresAt.After(now) {
			delete(m.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

// SessionCount reports the number of live session rows; test helper.
func (m *Storage) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

func (m *Storage) CreateUser(_ context.Context, username, email, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return nil, storage.ErrUserExists
		}
	}

	m.nextID++
	user := models.User{
		ID:           m.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[user.ID] = user

	return &user, nil
}

func (m *Storage) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return &user, nil
}

func (m *Storage) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Username == username {
			return &user, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

// DeleteUser removes a user without touching their sessions; test helper for
// the deleted-account race.
func (m *Storage) DeleteUser(_ context.Context, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, id)
}
