package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mentormodule/models"
	"mentormodule/pkg/apierror"
	"mentormodule/pkg/idp"
	"mentormodule/pkg/session"
)

const (
	cookieName       = "mentor_session"
	cookieOAuthState = "oauth_state"
	cookieSessionID  = "session_id"
	loginRetryURL    = "/auth/login"

	ctxUser    = "user"
	ctxSession = "session"
)

// requireSession admits requests carrying a live session, either as a bearer access
// token or through the web session cookie.
func (a *app) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, user, err := a.authenticate(c)
		if err != nil {
			respondError(c, err)
			return
		}
		if !a.gate.IsAllowed(user.Role) {
			respondError(c, apierror.AccessDenied(user.Role))
			return
		}
		c.Set(ctxUser, user)
		c.Set(ctxSession, sess)
		c.Set("role", user.Role)
		c.Next()
	}
}

// requireRoute applies the permission table to the request path.
func (a *app) requireRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			respondError(c, apierror.ErrUnauthorized)
			return
		}
		if !a.gate.CanAccess(user.Role, c.Request.URL.Path) {
			respondError(c, apierror.AccessDenied(user.Role).
				WithMessage(fmt.Sprintf("role %q may not access %s", user.Role, c.Request.URL.Path)))
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if len(h) < 8 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

func (a *app) authenticate(c *gin.Context) (*models.Session, *models.User, error) {
	ctx := c.Request.Context()
	if token, ok := bearerToken(c); ok {
		sess, user, err := a.sessions.Authenticate(ctx, token)
		if err != nil {
			return nil, nil, unknownSession(err)
		}
		if err := a.confirmWithProvider(ctx, sess, user, token); err != nil {
			return nil, nil, err
		}
		return sess, user, nil
	}
	if id, ok := a.cookieSessionID(c); ok {
		sess, user, err := a.sessions.Resume(ctx, id)
		if err != nil {
			return nil, nil, unknownSession(err)
		}
		return sess, user, nil
	}
	return nil, nil, apierror.ErrUnauthorized.WithMessage("missing or invalid Authorization header")
}

func unknownSession(err error) error {
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrUserNotFound) {
		return apierror.ErrUnauthorized.WithMessage("session expired or unknown")
	}
	return err
}

// confirmWithProvider asks the identity provider about the token at most once per
// validate interval per session. The provider's user must be the session's user.
func (a *app) confirmWithProvider(ctx context.Context, sess *models.Session, user *models.User, token string) error {
	now := a.sessions.Now()
	interval := a.cfg.Auth.ValidateInterval
	if a.validated.fresh(sess.ID, now, interval) {
		return nil
	}
	res := a.idp.Validate(ctx, token)
	if !res.Valid {
		return providerRejection(res.Err)
	}
	if res.User.ID != user.ExternalID {
		return apierror.ErrUnauthorized.WithMessage("token does not belong to this session")
	}
	a.validated.mark(sess.ID, now, interval)
	return nil
}

// providerRejection maps a failed validation: a rejected token is a 401, an unreachable
// provider a 502.
func providerRejection(err error) error {
	if idp.IsRejected(err) || errors.Is(err, idp.ErrEmptyToken) {
		return apierror.ErrUnauthorized.WithMessage("access token rejected by identity provider")
	}
	return apierror.ErrUpstream.WithMessage("identity provider unavailable")
}

func (a *app) cookieSessionID(c *gin.Context) (uuid.UUID, bool) {
	cs, err := a.cookies.Get(c.Request, cookieName)
	if err != nil {
		return uuid.Nil, false
	}
	raw, _ := cs.Values[cookieSessionID].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// requireAdminKey guards internal routes with X-Admin-Key checked against a bcrypt hash.
// Without a configured hash the routes are closed.
func (a *app) requireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if len(a.adminHash) == 0 || key == "" || bcrypt.CompareHashAndPassword(a.adminHash, []byte(key)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apierror.ErrUnauthorized.WithMessage("invalid admin key")})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

func currentSession(c *gin.Context) *models.Session {
	v, ok := c.Get(ctxSession)
	if !ok {
		return nil
	}
	s, _ := v.(*models.Session)
	return s
}
