package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mentormodule/pkg/authstate"
	"mentormodule/pkg/idp"
)

// apiClient talks to the mentor server's /auth endpoints. The server holds the
// identity provider API key, so code exchange and refresh go through it.
type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(base string, hc *http.Client) *apiClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &apiClient{base: strings.TrimRight(base, "/"), hc: hc}
}

// serverError is the {"error": {...}} body every server route returns on failure.
type serverError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *serverError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *apiClient) Exchange(ctx context.Context, code, redirectURI string) (*idp.TokenResponse, error) {
	var tok idp.TokenResponse
	body := map[string]string{"code": code, "redirect_uri": redirectURI}
	if err := c.post(ctx, "/auth/exchange", "", body, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Refresh reports a refused refresh token as an idp.RejectedError.
func (c *apiClient) Refresh(ctx context.Context, refreshToken string) (*idp.TokenResponse, error) {
	var tok idp.TokenResponse
	err := c.post(ctx, "/auth/refresh", "", map[string]string{"refresh_token": refreshToken}, &tok)
	var se *serverError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		return nil, &idp.RejectedError{StatusCode: se.Status, Code: se.Code, Message: se.Message}
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (c *apiClient) StoreSession(ctx context.Context, tok *idp.TokenResponse) (*authstate.StoredSession, error) {
	if tok.User == nil {
		return nil, fmt.Errorf("%w: token response has no user", idp.ErrMalformedResponse)
	}
	body := map[string]any{
		"user":          tok.User,
		"access_token":  tok.AccessToken,
		"refresh_token": tok.RefreshToken,
		"expires_in":    tok.ExpiresIn,
	}
	var out authstate.StoredSession
	if err := c.post(ctx, "/auth/store-session", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Logout(ctx context.Context, accessToken string) error {
	return c.post(ctx, "/auth/logout", accessToken, nil, nil)
}

func (c *apiClient) post(ctx context.Context, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", idp.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// decode fills out from a 2xx response or returns the server's error.
func decode(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &serverError{Status: resp.StatusCode}
		var wrapped struct {
			Error *serverError `json:"error"`
		}
		if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != nil {
			se.Code, se.Message = wrapped.Error.Code, wrapped.Error.Message
		}
		return se
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
