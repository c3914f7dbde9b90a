package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"mentormodule/models"
	"mentormodule/pkg/apierror"
	"mentormodule/pkg/idp"
	"mentormodule/pkg/rolegate"
	"mentormodule/pkg/session"
	"mentormodule/pkg/upstream"
)

func newRouter(a *app) *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(a.log), metricsMiddleware(), gin.Recovery())
	setupRoutes(r, a)
	return r
}

func setupRoutes(r *gin.Engine, a *app) {
	r.GET("/health", a.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static("/public", a.cfg.Upload.BaseDir)

	auth := r.Group("/auth")
	if a.limiter != nil {
		auth.Use(a.limiter.Middleware(func(c *gin.Context) { respondError(c, apierror.ErrRateLimited) }))
	}
	auth.GET("/login", a.loginHandler)
	auth.GET("/callback", a.callbackHandler)
	auth.POST("/exchange", a.exchangeHandler)
	auth.POST("/store-session", a.storeSessionHandler)
	auth.POST("/refresh", a.refreshHandler)
	authed := auth.Group("", a.requireSession())
	authed.POST("/logout", a.logoutHandler)
	authed.GET("/me", a.meHandler)

	api := r.Group("/api", a.requireSession(), a.requireRoute())
	api.GET("/mentors", a.listMentorsHandler)
	api.GET("/mentors/:id", a.getMentorHandler)
	api.PATCH("/mentors/:id", a.updateMentorHandler)
	api.POST("/mentors/:id/assign", a.assignStudentHandler)
	api.GET("/students", a.listStudentsHandler)
	api.GET("/students/:id", a.getStudentHandler)
	api.GET("/staff", a.listStaffHandler)
	api.GET("/institutions", a.listInstitutionsHandler)
	api.GET("/counseling-sessions", a.listCounselingHandler)
	api.POST("/counseling-sessions", a.createCounselingHandler)
	api.PATCH("/counseling-sessions/:id", a.updateCounselingHandler)
	api.POST("/counseling-sessions/:id/feedback", a.createFeedbackHandler)
	api.POST("/profile/avatar", a.uploadAvatarHandler)
	api.GET("/roles", a.listRolesHandler)

	internal := r.Group("/internal", a.requireAdminKey())
	internal.POST("/sessions/purge", a.purgeSessionsHandler)
}

// respondError writes {"error": {code, message, details}} and aborts.
func respondError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(apiErr.StatusCode, gin.H{"error": apiErr})
}

func toAPIError(err error) *apierror.APIError {
	var (
		apiErr *apierror.APIError
		denied *rolegate.AccessDeniedError
		rej    *idp.RejectedError
		status *upstream.StatusError
		parse  *upstream.ParseError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &denied):
		return apierror.AccessDenied(denied.Role)
	case errors.Is(err, session.ErrInvalidRequest):
		return apierror.ErrBadRequest.WithMessage(err.Error())
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrUserNotFound):
		return apierror.ErrUnauthorized
	case errors.As(err, &rej):
		return apierror.AuthenticationFailed(rej.Message, loginRetryURL)
	case errors.Is(err, idp.ErrTimeout), errors.Is(err, idp.ErrUnavailable), errors.Is(err, idp.ErrMalformedResponse):
		return apierror.ErrUpstream.WithMessage("identity provider unavailable")
	case errors.As(err, &status):
		switch {
		case status.StatusCode == http.StatusNotFound:
			return apierror.NewNotFoundError("record")
		case status.StatusCode == http.StatusUnauthorized, status.StatusCode == http.StatusForbidden:
			// our credential was refused; never look like the caller's session failed
			return apierror.ErrUpstream
		}
		return apierror.FromUpstream(status.StatusCode, status.Message)
	case errors.As(err, &parse):
		return apierror.ErrUpstream.WithMessage("data service returned a malformed record")
	case errors.Is(err, upstream.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return apierror.ErrUpstream
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apierror.ErrNotFound
	case isUniqueConstraintError(err):
		return apierror.ErrConflict
	}
	return apierror.ErrInternal
}

func (a *app) healthHandler(c *gin.Context) {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *app) meHandler(c *gin.Context) {
	user := currentUser(c)
	sess := currentSession(c)
	route, _ := a.gate.DefaultRoute(user.Role)
	c.JSON(http.StatusOK, gin.H{
		"user":         user,
		"redirect_url": route,
		"session":      gin.H{"id": sess.ID, "expires_at": sess.ExpiresAt},
	})
}

func (a *app) listRolesHandler(c *gin.Context) {
	var roles []models.Role
	if err := a.db.WithContext(c.Request.Context()).Order("name").Find(&roles).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

// pagination reads limit (default 50, max 100) and offset.
func pagination(c *gin.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = min(v, 100)
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		respondError(c, apierror.NewValidationError(name, "must be a positive integer"))
		return 0, false
	}
	return uint(v), true
}
