package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mentormodule/models"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]models.Session)}
}

func (m *MemoryStore) Create(_ context.Context, s *models.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		// same unique index as the sessions table
		if existing.AccessTokenHash == s.AccessTokenHash {
			return fmt.Errorf("session for this access token: %w", gorm.ErrDuplicatedKey)
		}
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) FindByAccessToken(_ context.Context, accessToken string, now time.Time) (*models.Session, error) {
	hash := HashToken(accessToken)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.AccessTokenHash == hash && s.Live(now) {
			out := s
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID, now time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.Live(now) {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) DeleteByUser(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if !s.Live(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
