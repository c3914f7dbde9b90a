package models

import (
	"time"

	"github.com/google/uuid"
)

// AvatarUpload records a normalized profile picture written under the upload base directory.
type AvatarUpload struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UserID      uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	StorePath   string    `gorm:"column:store_path;size:512" json:"store_path"` // public relative path (e.g. public/avatars/<id>.png)
	ContentType string    `gorm:"size:128" json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
}
