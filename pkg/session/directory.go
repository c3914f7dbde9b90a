package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mentormodule/models"
	"mentormodule/pkg/idp"
)

// ErrUserNotFound is returned when a user id has no row.
var ErrUserNotFound = errors.New("session: user not found")

// Directory mirrors identity-provider users and their mentor records.
type Directory interface {
	// UpsertUser creates or refreshes the local copy of u, keyed by the provider id.
	UpsertUser(ctx context.Context, u *idp.User, now time.Time) (*models.User, error)
	// EnsureMentor returns the mentor row for user, creating it when missing.
	EnsureMentor(ctx context.Context, user *models.User) (*models.Mentor, bool, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

func userFromIdentity(u *idp.User, now time.Time) models.User {
	return models.User{
		ExternalID:       u.ID,
		Email:            u.Email,
		FullName:         u.FullName,
		Role:             u.Role,
		DepartmentID:     u.DepartmentID,
		InstitutionID:    u.InstitutionID,
		PhoneNumber:      u.PhoneNumber,
		Gender:           u.Gender,
		Designation:      u.Designation,
		AvatarURL:        u.AvatarURL,
		ProfileCompleted: u.ProfileCompleted,
		LastLoginAt:      &now,
	}
}

// GormDirectory is the Postgres Directory.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) UpsertUser(ctx context.Context, u *idp.User, now time.Time) (*models.User, error) {
	row := userFromIdentity(u, now)
	update := []string{
		"email", "full_name", "role", "department_id", "institution_id", "phone_number",
		"gender", "designation", "profile_completed", "last_login_at", "updated_at",
	}
	// keep a locally uploaded avatar when the provider sends none
	if u.AvatarURL != nil {
		update = append(update, "avatar_url")
	}
	db := d.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(update),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	// the conflict path keeps the existing primary key, so read it back
	var out models.User
	if err := db.Where("external_id = ?", u.ID).First(&out).Error; err != nil {
		return nil, fmt.Errorf("reload user %s: %w", u.ID, err)
	}
	return &out, nil
}

func (d *GormDirectory) EnsureMentor(ctx context.Context, user *models.User) (*models.Mentor, bool, error) {
	db := d.db.WithContext(ctx)
	var m models.Mentor
	err := db.Where("user_id = ?", user.ID).First(&m).Error
	if err == nil {
		return &m, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("find mentor: %w", err)
	}
	m = models.Mentor{
		UserID:        user.ID,
		DepartmentID:  user.DepartmentID,
		InstitutionID: user.InstitutionID,
		Designation:   user.Designation,
		IsActive:      true,
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create mentor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// lost a race with a concurrent login
		if err := db.Where("user_id = ?", user.ID).First(&m).Error; err != nil {
			return nil, false, fmt.Errorf("reload mentor: %w", err)
		}
		return &m, false, nil
	}
	return &m, true, nil
}

func (d *GormDirectory) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := d.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// MemoryDirectory is an in-process Directory for tests and local development.
type MemoryDirectory struct {
	mu      sync.Mutex
	users   map[string]*models.User // by external id
	mentors map[uuid.UUID]*models.Mentor
	nextID  uint
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:   make(map[string]*models.User),
		mentors: make(map[uuid.UUID]*models.Mentor),
	}
}

func (d *MemoryDirectory) UpsertUser(_ context.Context, u *idp.User, now time.Time) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	row := userFromIdentity(u, now)
	if existing, ok := d.users[u.ID]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if row.AvatarURL == nil {
			row.AvatarURL = existing.AvatarURL
		}
	} else {
		row.ID = uuid.New()
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	d.users[u.ID] = &row
	out := row
	return &out, nil
}

func (d *MemoryDirectory) EnsureMentor(_ context.Context, user *models.User) (*models.Mentor, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.mentors[user.ID]; ok {
		out := *m
		return &out, false, nil
	}
	d.nextID++
	m := &models.Mentor{
		ID:            d.nextID,
		UserID:        user.ID,
		DepartmentID:  user.DepartmentID,
		InstitutionID: user.InstitutionID,
		Designation:   user.Designation,
		IsActive:      true,
	}
	d.mentors[user.ID] = m
	out := *m
	return &out, true, nil
}

func (d *MemoryDirectory) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.ID == id {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

// MentorCount returns how many mentor rows exist.
func (d *MemoryDirectory) MentorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mentors)
}

