package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mentormodule/models"
	"mentormodule/pkg/apierror"
	"mentormodule/pkg/rolegate"
	"mentormodule/pkg/upstream"
)

// listMentorsHandler lists mentors. A head of department only sees their department.
func (a *app) listMentorsHandler(c *gin.Context) {
	user := currentUser(c)
	q := a.db.WithContext(c.Request.Context()).Model(&models.Mentor{})
	if v := c.Query("department_id"); v != "" {
		q = q.Where("department_id = ?", v)
	}
	if v := c.Query("institution_id"); v != "" {
		q = q.Where("institution_id = ?", v)
	}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, apierror.NewValidationError("active", "must be true or false"))
			return
		}
		q = q.Where("is_active = ?", active)
	}
	q = scopeMentors(q, user).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respondError(c, err)
		return
	}
	limit, offset := pagination(c)
	var mentors []models.Mentor
	if err := q.Preload("User").Order("id").Limit(limit).Offset(offset).Find(&mentors).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": mentors, "total": total, "limit": limit, "offset": offset})
}

// scopeMentors limits a head of department to mentors of their own department.
func scopeMentors(q *gorm.DB, user *models.User) *gorm.DB {
	if user.Role == rolegate.RoleHOD && user.DepartmentID != nil {
		return q.Where("department_id = ?", *user.DepartmentID)
	}
	return q
}

// findMentor loads the :id mentor. Mentors outside the caller's scope are not found.
func (a *app) findMentor(c *gin.Context) (*models.Mentor, bool) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return nil, false
	}
	var m models.Mentor
	q := scopeMentors(a.db.WithContext(c.Request.Context()), currentUser(c))
	err := q.Preload("User").First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, apierror.NewNotFoundError("mentor"))
		return nil, false
	}
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return &m, true
}

func (a *app) getMentorHandler(c *gin.Context) {
	m, ok := a.findMentor(c)
	if !ok {
		return
	}
	var assigned []models.MentorStudent
	if err := a.db.WithContext(c.Request.Context()).Where("mentor_id = ?", m.ID).Order("id").Find(&assigned).Error; err != nil {
		respondError(c, err)
		return
	}
	ids := make([]string, 0, len(assigned))
	for _, ms := range assigned {
		ids = append(ids, ms.StudentID)
	}
	c.JSON(http.StatusOK, gin.H{"mentor": m, "student_ids": ids})
}

type updateMentorRequest struct {
	IsActive    *bool   `json:"is_active"`
	Designation *string `json:"designation"`
}

func (a *app) updateMentorHandler(c *gin.Context) {
	var req updateMentorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.ErrBadRequest.WithMessage("malformed JSON body"))
		return
	}
	updates := map[string]any{}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Designation != nil {
		d := strings.TrimSpace(*req.Designation)
		if len(d) > 128 {
			respondError(c, apierror.NewValidationError("designation", "at most 128 characters"))
			return
		}
		updates["designation"] = d
	}
	if len(updates) == 0 {
		respondError(c, apierror.NewValidationError("body", "nothing to update"))
		return
	}
	m, ok := a.findMentor(c)
	if !ok {
		return
	}
	if err := a.db.WithContext(c.Request.Context()).Model(m).Updates(updates).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type assignRequest struct {
	StudentID string `json:"student_id" binding:"required"`
}

// assignStudentHandler links a data API student to a mentor. Assigning the same
// student twice is a conflict.
func (a *app) assignStudentHandler(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.NewValidationError("student_id", "student_id is required"))
		return
	}
	m, ok := a.findMentor(c)
	if !ok {
		return
	}
	if !m.IsActive {
		respondError(c, apierror.NewConflictError("mentor is inactive"))
		return
	}
	ctx := c.Request.Context()
	if _, err := a.data.GetStudent(ctx, req.StudentID); err != nil {
		if upstream.IsNotFound(err) {
			respondError(c, apierror.NewNotFoundError("student"))
			return
		}
		respondError(c, err)
		return
	}

	link := models.MentorStudent{MentorID: m.ID, StudentID: req.StudentID}
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&link).Error; err != nil {
			return err
		}
		return tx.Model(&models.Mentor{}).Where("id = ?", m.ID).
			UpdateColumn("total_students", gorm.Expr("total_students + 1")).Error
	})
	if isUniqueConstraintError(err) {
		respondError(c, apierror.NewConflictError("student already assigned to this mentor"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

// ownMentorID returns the mentor record id of a faculty user. found is false when the
// user has no mentor record yet.
func (a *app) ownMentorID(c *gin.Context, user *models.User) (id uint, found bool, err error) {
	var m models.Mentor
	err = a.db.WithContext(c.Request.Context()).Select("id").Where("user_id = ?", user.ID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return m.ID, true, nil
}

// findCounseling loads the :id counseling session. Faculty only find sessions held by
// their own mentor record.
func (a *app) findCounseling(c *gin.Context) (*models.CounselingSession, bool) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return nil, false
	}
	q := a.db.WithContext(c.Request.Context())
	if user := currentUser(c); user.Role == rolegate.RoleFaculty {
		mentorID, found, err := a.ownMentorID(c, user)
		if err != nil {
			respondError(c, err)
			return nil, false
		}
		if !found {
			respondError(c, apierror.NewNotFoundError("counseling session"))
			return nil, false
		}
		q = q.Where("mentor_id = ?", mentorID)
	}
	var cs models.CounselingSession
	err := q.First(&cs, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, apierror.NewNotFoundError("counseling session"))
		return nil, false
	}
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return &cs, true
}

// listCounselingHandler lists counseling sessions. Faculty only see their own.
func (a *app) listCounselingHandler(c *gin.Context) {
	user := currentUser(c)
	ctx := c.Request.Context()
	q := a.db.WithContext(ctx).Model(&models.CounselingSession{})
	if user.Role == rolegate.RoleFaculty {
		mentorID, found, err := a.ownMentorID(c, user)
		if err != nil {
			respondError(c, err)
			return
		}
		if !found {
			c.JSON(http.StatusOK, gin.H{"data": []models.CounselingSession{}, "total": 0})
			return
		}
		q = q.Where("mentor_id = ?", mentorID)
	} else if v := c.Query("mentor_id"); v != "" {
		q = q.Where("mentor_id = ?", v)
	}
	if v := c.Query("student_id"); v != "" {
		q = q.Where("student_id = ?", v)
	}
	if v := c.Query("status"); v != "" {
		q = q.Where("status = ?", v)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		respondError(c, err)
		return
	}
	limit, offset := pagination(c)
	var out []models.CounselingSession
	if err := q.Order("scheduled_at desc").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "total": total})
}

type createCounselingRequest struct {
	MentorID    uint      `json:"mentor_id"`
	StudentID   string    `json:"student_id" binding:"required"`
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	Topic       string    `json:"topic" binding:"required,max=255"`
	Notes       string    `json:"notes" binding:"max=2048"`
}

// createCounselingHandler schedules a session. Faculty always schedule as their own
// mentor record; other roles name the mentor.
func (a *app) createCounselingHandler(c *gin.Context) {
	var req createCounselingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.ErrBadRequest.WithMessage("student_id, scheduled_at and topic are required"))
		return
	}
	user := currentUser(c)
	ctx := c.Request.Context()

	var mentorID uint
	if user.Role == rolegate.RoleFaculty {
		m, _, err := a.dir.EnsureMentor(ctx, user)
		if err != nil {
			respondError(c, err)
			return
		}
		mentorID = m.ID
	} else {
		if req.MentorID == 0 {
			respondError(c, apierror.NewValidationError("mentor_id", "mentor_id is required"))
			return
		}
		var count int64
		if err := a.db.WithContext(ctx).Model(&models.Mentor{}).Where("id = ?", req.MentorID).Count(&count).Error; err != nil {
			respondError(c, err)
			return
		}
		if count == 0 {
			respondError(c, apierror.NewNotFoundError("mentor"))
			return
		}
		mentorID = req.MentorID
	}

	cs := models.CounselingSession{
		MentorID:    mentorID,
		StudentID:   req.StudentID,
		ScheduledAt: req.ScheduledAt.UTC(),
		Topic:       strings.TrimSpace(req.Topic),
		Notes:       req.Notes,
		Status:      models.CounselingScheduled,
	}
	if err := a.db.WithContext(ctx).Create(&cs).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

type updateCounselingRequest struct {
	Status string  `json:"status" binding:"required,oneof=completed cancelled"`
	Notes  *string `json:"notes" binding:"omitempty,max=2048"`
}

// updateCounselingHandler closes a scheduled session as completed or cancelled. A
// session that is no longer scheduled cannot change again.
func (a *app) updateCounselingHandler(c *gin.Context) {
	var req updateCounselingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.NewValidationError("status", "status must be completed or cancelled"))
		return
	}
	cs, ok := a.findCounseling(c)
	if !ok {
		return
	}
	if cs.Status != models.CounselingScheduled {
		respondError(c, apierror.NewConflictError("counseling session is already "+cs.Status))
		return
	}

	updates := map[string]any{"status": req.Status}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	res := a.db.WithContext(c.Request.Context()).Model(cs).
		Where("status = ?", models.CounselingScheduled).Updates(updates)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, apierror.NewConflictError("counseling session was changed concurrently"))
		return
	}
	cs.Status = req.Status
	if req.Notes != nil {
		cs.Notes = *req.Notes
	}
	c.JSON(http.StatusOK, cs)
}

type feedbackRequest struct {
	Rating   int    `json:"rating" binding:"required,min=1,max=5"`
	Comments string `json:"comments" binding:"max=2048"`
}

// createFeedbackHandler records one feedback per author per session. Faculty may only
// leave feedback on their own sessions.
func (a *app) createFeedbackHandler(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.NewValidationError("rating", "rating must be between 1 and 5"))
		return
	}
	cs, ok := a.findCounseling(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if cs.Status == models.CounselingCancelled {
		respondError(c, apierror.NewConflictError("counseling session was cancelled"))
		return
	}

	fb := models.CounselingFeedback{
		CounselingSessionID: cs.ID,
		AuthorID:            currentUser(c).ID,
		Rating:              req.Rating,
		Comments:            req.Comments,
	}
	err := a.db.WithContext(ctx).Create(&fb).Error
	if isUniqueConstraintError(err) {
		respondError(c, apierror.NewConflictError("feedback already submitted for this session"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fb)
}
