package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mentormodule/pkg/apierror"
	"mentormodule/pkg/authstate"
	"mentormodule/pkg/idp"
	"mentormodule/pkg/rolegate"
	"mentormodule/pkg/session"
)

// loginHandler starts the browser flow: a fresh state goes into the cookie and the
// user agent is sent to the identity provider.
func (a *app) loginHandler(c *gin.Context) {
	state, err := authstate.NewState()
	if err != nil {
		respondError(c, err)
		return
	}
	cs, _ := a.cookies.Get(c.Request, cookieName)
	cs.Values[cookieOAuthState] = state
	if err := cs.Save(c.Request, c.Writer); err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, a.idp.AuthorizeURL(state, ""))
}

// callbackHandler completes the browser flow. A state that does not match the cookie
// aborts the login; the stored state is left in place.
func (a *app) callbackHandler(c *gin.Context) {
	if e := c.Query("error"); e != "" {
		loginsTotal.WithLabelValues("failed").Inc()
		reason := c.Query("error_description")
		if reason == "" {
			reason = e
		}
		respondError(c, apierror.AuthenticationFailed(reason, loginRetryURL))
		return
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		respondError(c, apierror.NewValidationError("code", "code and state are required"))
		return
	}
	cs, _ := a.cookies.Get(c.Request, cookieName)
	expected, _ := cs.Values[cookieOAuthState].(string)
	if expected == "" || expected != state {
		a.log.Warn("oauth callback state mismatch", "request_id", c.GetString("request_id"), "remote_addr", c.ClientIP())
		respondError(c, apierror.StateMismatch(loginRetryURL))
		return
	}

	ctx := c.Request.Context()
	tok, err := a.idp.Exchange(ctx, code, "")
	if err != nil {
		loginsTotal.WithLabelValues("failed").Inc()
		respondError(c, err)
		return
	}
	user, err := a.identify(ctx, tok)
	if err != nil {
		loginsTotal.WithLabelValues("failed").Inc()
		respondError(c, err)
		return
	}
	res, err := a.storeSession(ctx, user, tok, c.Request.UserAgent())
	if err != nil {
		respondError(c, err)
		return
	}

	delete(cs.Values, cookieOAuthState)
	cs.Values[cookieSessionID] = res.SessionID.String()
	cs.Options.MaxAge = int(time.Until(res.ExpiresAt).Seconds())
	if err := cs.Save(c.Request, c.Writer); err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, res.RedirectURL)
}

type exchangeRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURI string `json:"redirect_uri"`
}

// exchangeHandler trades a code for tokens on behalf of clients that must not hold the
// provider API key.
func (a *app) exchangeHandler(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.NewValidationError("code", "code is required"))
		return
	}
	ctx := c.Request.Context()
	tok, err := a.idp.Exchange(ctx, req.Code, req.RedirectURI)
	if err != nil {
		respondError(c, err)
		return
	}
	// clients need the user to call store-session
	user, err := a.identify(ctx, tok)
	if err != nil {
		respondError(c, err)
		return
	}
	tok.User = user
	c.JSON(http.StatusOK, tok)
}

// storeSessionHandler persists a session for a token pair the client obtained. The
// access token must validate at the provider and belong to the user in the body.
func (a *app) storeSessionHandler(c *gin.Context) {
	var req session.StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.ErrBadRequest.WithMessage("malformed JSON body"))
		return
	}
	if req.User == nil || req.User.ID == "" {
		respondError(c, apierror.NewValidationError("user", "user is required"))
		return
	}
	if req.AccessToken == "" {
		respondError(c, apierror.NewValidationError("access_token", "access_token is required"))
		return
	}
	ctx := c.Request.Context()
	v := a.idp.Validate(ctx, req.AccessToken)
	if !v.Valid {
		loginsTotal.WithLabelValues("failed").Inc()
		respondError(c, providerRejection(v.Err))
		return
	}
	if v.User.ID != req.User.ID {
		loginsTotal.WithLabelValues("failed").Inc()
		respondError(c, apierror.AuthenticationFailed("token does not belong to user", loginRetryURL))
		return
	}
	// the provider decides the role
	req.User.Role = v.User.Role

	res, err := a.storeSession(ctx, req.User, &idp.TokenResponse{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresIn:    req.ExpiresIn,
	}, c.Request.UserAgent())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// refreshHandler refreshes at the provider and records a superseding session.
func (a *app) refreshHandler(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.NewValidationError("refresh_token", "refresh_token is required"))
		return
	}
	ctx := c.Request.Context()
	tok, err := a.idp.Refresh(ctx, req.RefreshToken)
	if err != nil {
		refreshesTotal.WithLabelValues("failed").Inc()
		if idp.IsRejected(err) {
			respondError(c, apierror.AuthenticationFailed("refresh token rejected", loginRetryURL))
			return
		}
		respondError(c, err)
		return
	}
	user, err := a.identify(ctx, tok)
	if err != nil {
		refreshesTotal.WithLabelValues("failed").Inc()
		respondError(c, err)
		return
	}
	res, err := a.storeSession(ctx, user, tok, c.Request.UserAgent())
	if err != nil {
		refreshesTotal.WithLabelValues("failed").Inc()
		respondError(c, err)
		return
	}
	refreshesTotal.WithLabelValues("ok").Inc()
	tok.User = user
	tok.SessionID = res.SessionID.String()
	c.JSON(http.StatusOK, tok)
}

// logoutHandler deletes every session of the user and clears the cookie.
func (a *app) logoutHandler(c *gin.Context) {
	user := currentUser(c)
	n, err := a.sessions.Logout(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if cs, err := a.cookies.Get(c.Request, cookieName); err == nil && !cs.IsNew {
		delete(cs.Values, cookieSessionID)
		delete(cs.Values, cookieOAuthState)
		cs.Options.MaxAge = -1
		_ = cs.Save(c.Request, c.Writer)
	}
	a.log.Info("logged out", "user_id", user.ID.String(), "sessions_deleted", n)
	c.JSON(http.StatusOK, gin.H{"message": "logged out", "sessions_deleted": n})
}

// identify returns the token's user, asking the provider when the token response
// does not carry one.
func (a *app) identify(ctx context.Context, tok *idp.TokenResponse) (*idp.User, error) {
	if tok.User != nil && tok.User.ID != "" {
		return tok.User, nil
	}
	v := a.idp.Validate(ctx, tok.AccessToken)
	if !v.Valid {
		return nil, providerRejection(v.Err)
	}
	return v.User, nil
}

func (a *app) storeSession(ctx context.Context, user *idp.User, tok *idp.TokenResponse, userAgent string) (*session.StoreResult, error) {
	res, err := a.sessions.StoreSession(ctx, session.StoreRequest{
		User:         user,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		UserAgent:    userAgent,
	})
	switch {
	case err == nil:
		loginsTotal.WithLabelValues("stored").Inc()
		a.validated.mark(res.SessionID, a.sessions.Now(), a.cfg.Auth.ValidateInterval)
	case rolegate.IsAccessDenied(err):
		loginsTotal.WithLabelValues("denied").Inc()
	default:
		loginsTotal.WithLabelValues("failed").Inc()
	}
	return res, err
}
