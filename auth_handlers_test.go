package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentormodule/pkg/idp"
)

func TestStoreSessionAdmitsAllowedRole(t *testing.T) {
	s := newTestServer(t)
	u := testUser("ext-1", "faculty")
	tok := s.provider.issue(u)

	rec := s.do(http.MethodPost, "/auth/store-session", map[string]any{
		"user":          u,
		"access_token":  tok.AccessToken,
		"refresh_token": tok.RefreshToken,
		"expires_in":    3600,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		SessionID   string `json:"session_id"`
		RedirectURL string `json:"redirect_url"`
		Message     string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "/dashboard/faculty", res.RedirectURL)
	assert.Equal(t, "session stored", res.Message)
	assert.Equal(t, 1, s.store.Len())
	assert.Equal(t, 1, s.dir.MentorCount(), "faculty get a mentor record on first login")
}

func TestStoreSessionDeniesRoleAndNamesIt(t *testing.T) {
	s := newTestServer(t)
	u := testUser("ext-2", "student")
	tok := s.provider.issue(u)

	rec := s.do(http.MethodPost, "/auth/store-session", map[string]any{
		"user":         u,
		"access_token": tok.AccessToken,
		"expires_in":   3600,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	eb := decodeError(t, rec)
	assert.Equal(t, "access_denied", eb.Error.Code)
	assert.Contains(t, eb.Error.Message, "student")
	assert.Equal(t, "student", eb.Error.Details["role"])
	assert.Zero(t, s.store.Len())
}

func TestStoreSessionTwiceWithSameTokenConflicts(t *testing.T) {
	s := newTestServer(t)
	u := testUser("ext-5", "faculty")
	tok := s.provider.issue(u)
	body := map[string]any{
		"user":         u,
		"access_token": tok.AccessToken,
		"expires_in":   3600,
	}

	rec := s.do(http.MethodPost, "/auth/store-session", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/auth/store-session", body)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "conflict", decodeError(t, rec).Error.Code)
	assert.Equal(t, 1, s.store.Len())
}

func TestStoreSessionTakesRoleFromProvider(t *testing.T) {
	s := newTestServer(t)
	u := testUser("ext-3", "student")
	tok := s.provider.issue(u)

	claimed := *u
	claimed.Role = "super_admin"
	rec := s.do(http.MethodPost, "/auth/store-session", map[string]any{
		"user":         &claimed,
		"access_token": tok.AccessToken,
		"expires_in":   3600,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStoreSessionRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	u := testUser("ext-4", "hod")
	tok := s.provider.issue(u)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing user", map[string]any{"access_token": tok.AccessToken, "expires_in": 60}, http.StatusBadRequest},
		{"missing token", map[string]any{"user": u, "expires_in": 60}, http.StatusBadRequest},
		{"token unknown to provider", map[string]any{"user": u, "access_token": "forged", "expires_in": 60}, http.StatusUnauthorized},
		{"token of another user", map[string]any{"user": testUser("ext-other", "hod"), "access_token": tok.AccessToken, "expires_in": 60}, http.StatusUnauthorized},
		{"no expiry", map[string]any{"user": u, "access_token": tok.AccessToken}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/auth/store-session", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/auth/store-session", `{"user":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	assert.Zero(t, s.store.Len())
}

func TestMeRequiresSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/auth/me", nil, withToken("never-stored"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := s.signIn(t, testUser("ext-5", "principal"))
	rec = s.do(http.MethodGet, "/auth/me", nil, withToken(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var me struct {
		User struct {
			ExternalID string `json:"external_id"`
			Role       string `json:"role"`
		} `json:"user"`
		RedirectURL string `json:"redirect_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "ext-5", me.User.ExternalID)
	assert.Equal(t, "principal", me.User.Role)
	assert.Equal(t, "/dashboard/principal", me.RedirectURL)
}

func TestBearerValidationIsThrottled(t *testing.T) {
	s := newTestServer(t)
	token := s.signIn(t, testUser("ext-6", "hod"))
	before := s.provider.validations()

	for range 3 {
		rec := s.do(http.MethodGet, "/auth/me", nil, withToken(token))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, before, s.provider.validations(), "the store-session validation covers the interval")
}

func TestWebLoginFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/auth/login", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", loc.Path)
	assert.Equal(t, "mentor-module", loc.Query().Get("client_id"))
	assert.Equal(t, "code", loc.Query().Get("response_type"))
	state := loc.Query().Get("state")
	require.Len(t, state, 43)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	s.provider.addCode("code-1", testUser("ext-7", "hod"))
	rec = s.do(http.MethodGet, "/auth/callback?code=code-1&state="+state, nil, withCookies(cookies))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/dashboard/hod", rec.Header().Get("Location"))

	session := rec.Result().Cookies()
	require.NotEmpty(t, session)
	rec = s.do(http.MethodGet, "/auth/me", nil, withCookies(session))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCallbackStateMismatchKeepsStoredState(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/auth/login", nil)
	loc, _ := url.Parse(rec.Header().Get("Location"))
	state := loc.Query().Get("state")
	cookies := rec.Result().Cookies()
	s.provider.addCode("code-2", testUser("ext-8", "faculty"))

	rec = s.do(http.MethodGet, "/auth/callback?code=code-2&state=forged", nil, withCookies(cookies))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	eb := decodeError(t, rec)
	assert.Equal(t, "state_mismatch", eb.Error.Code)
	assert.Equal(t, "/auth/login", eb.Error.Details["retry_url"])
	assert.Zero(t, s.store.Len())

	// the genuine callback still completes
	rec = s.do(http.MethodGet, "/auth/callback?code=code-2&state="+state, nil, withCookies(cookies))
	assert.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/dashboard/faculty", rec.Header().Get("Location"))
}

func TestCallbackErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/auth/callback?error=access_denied&error_description=user+cancelled", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	eb := decodeError(t, rec)
	assert.Equal(t, "authentication_failed", eb.Error.Code)
	assert.Equal(t, "user cancelled", eb.Error.Message)

	rec = s.do(http.MethodGet, "/auth/callback?code=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/auth/callback?code=abc&state=no-cookie", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExchangeAndRefresh(t *testing.T) {
	s := newTestServer(t)
	s.provider.addCode("code-3", testUser("ext-9", "digital_coordinator"))

	rec := s.do(http.MethodPost, "/auth/exchange", map[string]string{"code": "code-3"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first idp.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.NotEmpty(t, first.AccessToken)

	rec = s.do(http.MethodPost, "/auth/exchange", map[string]string{"code": "code-3"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "codes are single use")

	rec = s.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second idp.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEmpty(t, second.SessionID)

	rec = s.do(http.MethodGet, "/auth/me", nil, withToken(second.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_failed", decodeError(t, rec).Error.Code)

	rec = s.do(http.MethodPost, "/auth/refresh", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutEndsEverySession(t *testing.T) {
	s := newTestServer(t)
	u := testUser("ext-10", "hod")
	a := s.signIn(t, u)
	b := s.signIn(t, u)
	require.Equal(t, 2, s.store.Len())

	rec := s.do(http.MethodPost, "/auth/logout", nil, withToken(a))
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Deleted int `json:"sessions_deleted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Deleted)

	rec = s.do(http.MethodGet, "/auth/me", nil, withToken(b))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(http.MethodPost, "/auth/logout", nil, withToken(a))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
