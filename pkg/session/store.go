// Package session persists server-side login sessions and bridges a fresh token pair into one.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"mentormodule/models"
)

// ErrNotFound is returned when no live session matches.
var ErrNotFound = errors.New("session: not found")

// Store is the session persistence boundary. Lookups only return sessions that are live at now.
type Store interface {
	Create(ctx context.Context, s *models.Session) error
	FindByAccessToken(ctx context.Context, accessToken string, now time.Time) (*models.Session, error)
	FindByID(ctx context.Context, id uuid.UUID, now time.Time) (*models.Session, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// HashToken returns the hex SHA-256 of a raw token; only hashes are stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
