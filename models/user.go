package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a principal issued by the identity provider, mirrored locally.
// Rows are upserted on every login keyed by ExternalID and never deleted.
type User struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExternalID       string     `gorm:"size:128;not null;uniqueIndex" json:"external_id"`
	Email            string     `gorm:"size:255;index" json:"email"`
	FullName         string     `gorm:"size:255" json:"full_name"`
	Role             string     `gorm:"size:32;not null;index" json:"role"`
	DepartmentID     *string    `gorm:"size:64;index" json:"department_id,omitempty"`
	InstitutionID    *string    `gorm:"size:64;index" json:"institution_id,omitempty"`
	PhoneNumber      *string    `gorm:"size:64" json:"phone_number,omitempty"`
	Gender           *string    `gorm:"size:32" json:"gender,omitempty"`
	Designation      *string    `gorm:"size:128" json:"designation,omitempty"`
	AvatarURL        *string    `gorm:"size:512" json:"avatar_url,omitempty"`
	ProfileCompleted bool       `gorm:"default:false;not null" json:"profile_completed"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
