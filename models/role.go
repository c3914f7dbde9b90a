package models

import "time"

// Role is the seeded catalogue of roles known to the identity provider.
type Role struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Name         string    `gorm:"size:32;uniqueIndex;not null" json:"name"`
	Description  string    `gorm:"size:255" json:"description"`
	DefaultRoute string    `gorm:"size:255" json:"default_route,omitempty"`
	Allowed      bool      `gorm:"default:false;not null" json:"allowed"`
}
