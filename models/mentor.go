package models

import (
	"time"

	"github.com/google/uuid"
)

// Mentor is the 1:1 extension of a faculty user. It is created lazily on login.
type Mentor struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	UserID        uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	User          User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user,omitempty"`
	DepartmentID  *string   `gorm:"size:64;index" json:"department_id,omitempty"`
	InstitutionID *string   `gorm:"size:64;index" json:"institution_id,omitempty"`
	Designation   *string   `gorm:"size:128" json:"designation,omitempty"`
	// TotalStudents is a plain counter bumped on assignment, not recomputed.
	TotalStudents int  `gorm:"default:0;not null" json:"total_students"`
	IsActive      bool `gorm:"default:true;not null" json:"is_active"`
}

// MentorStudent records a student (identified by the data API id) assigned to a mentor.
type MentorStudent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	MentorID  uint      `gorm:"not null;uniqueIndex:idx_mentor_student" json:"mentor_id"`
	StudentID string    `gorm:"size:64;not null;uniqueIndex:idx_mentor_student" json:"student_id"`
}
