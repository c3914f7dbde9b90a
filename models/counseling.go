package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	CounselingScheduled = "scheduled"
	CounselingCompleted = "completed"
	CounselingCancelled = "cancelled"
)

// CounselingSession is a meeting between a mentor and one student.
type CounselingSession struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	MentorID    uint      `gorm:"index;not null" json:"mentor_id"`
	StudentID   string    `gorm:"size:64;index;not null" json:"student_id"`
	ScheduledAt time.Time `gorm:"not null" json:"scheduled_at"`
	Topic       string    `gorm:"size:255;not null" json:"topic"`
	Notes       string    `gorm:"size:2048" json:"notes,omitempty"`
	Status      string    `gorm:"size:32;default:scheduled;not null" json:"status"`
}

// CounselingFeedback is unique per session and author.
type CounselingFeedback struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	CreatedAt           time.Time `json:"created_at"`
	CounselingSessionID uint      `gorm:"not null;uniqueIndex:idx_feedback_author" json:"counseling_session_id"`
	AuthorID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_feedback_author" json:"author_id"`
	Rating              int       `gorm:"not null" json:"rating"`
	Comments            string    `gorm:"size:2048" json:"comments,omitempty"`
}
