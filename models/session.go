package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session binds a user to a token pair until ExpiresAt. Tokens are stored as SHA-256 hashes.
// A refresh creates a new row; old rows are left to expire. A user may hold any number of rows.
type Session struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	UserID           uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	AccessTokenHash  string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	RefreshTokenHash string    `gorm:"size:64;index" json:"-"`
	ExpiresAt        time.Time `gorm:"index;not null" json:"expires_at"`
	UserAgent        string    `gorm:"size:512" json:"user_agent,omitempty"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Live reports whether the session is still within its expiry.
func (s *Session) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
