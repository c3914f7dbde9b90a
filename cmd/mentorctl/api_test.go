package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentormodule/pkg/authstate"
	"mentormodule/pkg/idp"
)

// fakeServer mimics the mentor server's /auth routes.
func fakeServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	logouts := 0
	user := map[string]any{"id": "ext-1", "email": "a@college.edu", "full_name": "Asha", "role": "faculty"}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/exchange", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != "good-code" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"authentication_failed","message":"grant is invalid"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600, "user": user,
		})
	})
	mux.HandleFunc("/auth/store-session", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			User        *idp.User `json:"user"`
			AccessToken string    `json:"access_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.User == nil || body.AccessToken == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"session_id":"sess-1","user_id":"u-1","redirect_url":"/dashboard/faculty","message":"session stored"}`))
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "rt-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"authentication_failed","message":"refresh token rejected"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-2", "refresh_token": "rt-2", "expires_in": 3600, "user": user, "session_id": "sess-2",
		})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		logouts++
		_, _ = w.Write([]byte(`{"message":"logged out","sessions_deleted":1}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &logouts
}

func TestAPIClientRefreshRejection(t *testing.T) {
	srv, _ := fakeServer(t)
	api := newAPIClient(srv.URL, nil)

	_, err := api.Refresh(context.Background(), "revoked")
	var rej *idp.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusUnauthorized, rej.StatusCode)
	assert.Equal(t, "refresh token rejected", rej.Message)

	tok, err := api.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
	assert.Equal(t, "sess-2", tok.SessionID)
}

func TestAPIClientSurfacesServerError(t *testing.T) {
	srv, _ := fakeServer(t)
	api := newAPIClient(srv.URL, nil)

	_, err := api.Exchange(context.Background(), "bad-code", "")
	var se *serverError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "authentication_failed", se.Code)
	assert.Contains(t, err.Error(), "grant is invalid")
}

func TestStoreSessionNeedsUser(t *testing.T) {
	api := newAPIClient("http://127.0.0.1:1", nil)
	_, err := api.StoreSession(context.Background(), &idp.TokenResponse{AccessToken: "at"})
	assert.ErrorIs(t, err, idp.ErrMalformedResponse)
}

func TestLoginLogoutThroughServer(t *testing.T) {
	srv, logouts := fakeServer(t)
	api := newAPIClient(srv.URL, nil)
	auth := authstate.New(authstate.Config{RedirectURI: "http://127.0.0.1:8765/callback"}, authstate.Deps{
		Storage:   authstate.NewMemoryStorage(),
		Refresher: api,
		Exchanger: api,
		Sessions:  api,
		AuthURL:   idp.NewClient(idp.Config{BaseURL: "https://id.example.edu", ClientID: "mentor-module"}),
	})
	defer auth.Close()

	loginURL, err := auth.Login()
	require.NoError(t, err)
	assert.Contains(t, loginURL, "https://id.example.edu/oauth/authorize")
	state := stateFromURL(t, loginURL)
	res, err := auth.CompleteCallback(context.Background(), authstate.CallbackParams{Code: "good-code", State: state})
	require.NoError(t, err)
	assert.Equal(t, "/dashboard/faculty", res.RedirectURL)
	assert.Equal(t, "sess-1", auth.Snapshot().SessionID)

	require.NoError(t, auth.Logout(context.Background()))
	assert.Equal(t, 1, *logouts)
	assert.Equal(t, authstate.StateUnauthenticated, auth.State())
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}
