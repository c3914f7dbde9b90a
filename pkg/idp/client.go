// Package idp talks to the institution's OAuth identity provider: authorize redirects,
// code exchange, token refresh and token validation. The provider is the only authority
// on token validity; nothing here verifies signatures locally.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config describes the provider endpoints and this application's registration.
type Config struct {
	BaseURL       string
	AuthorizePath string
	TokenPath     string
	ValidatePath  string
	// ClientID is sent as client_id, app_id and child_app_id depending on the endpoint.
	ClientID string
	// APIKey is server-only; leave empty on clients that only build authorize URLs.
	APIKey      string
	RedirectURL string
	Scopes      []string
	Timeout     time.Duration
}

// HTTPClient allows tests to swap the transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient HTTPClient
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides time.Now, used when deriving expiry from token claims.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient builds a provider client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.AuthorizePath == "" {
		cfg.AuthorizePath = "/oauth/authorize"
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = "/oauth/token"
	}
	if cfg.ValidatePath == "" {
		cfg.ValidatePath = "/oauth/validate"
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + cfg.AuthorizePath,
				TokenURL: base + cfg.TokenPath,
			},
		},
		httpClient: http.DefaultClient,
		tracer:     otel.Tracer("mentormodule/idp"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizeURL returns the provider authorize URL carrying client_id, redirect_uri,
// response_type=code, scope and state. An empty redirectURI keeps the configured one.
func (c *Client) AuthorizeURL(state, redirectURI string) string {
	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	return c.oauth.AuthCodeURL(state, opts...)
}

// RedirectURL is the configured callback URL.
func (c *Client) RedirectURL() string {
	return c.cfg.RedirectURL
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	if code == "" {
		return nil, fmt.Errorf("idp: exchange: %w", ErrEmptyToken)
	}
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURL
	}
	req := tokenRequest{
		GrantType:   "authorization_code",
		Code:        code,
		AppID:       c.cfg.ClientID,
		APIKey:      c.cfg.APIKey,
		RedirectURI: redirectURI,
	}
	var tok TokenResponse
	if err := c.post(ctx, "exchange", c.cfg.TokenPath, req, &tok); err != nil {
		return nil, err
	}
	if err := c.finalize(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Refresh trades a refresh token for a new access/refresh pair. A nil response means the
// session cannot be recovered; callers must not retry on their own beyond their policy.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("idp: refresh: %w", ErrEmptyToken)
	}
	req := tokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		AppID:        c.cfg.ClientID,
		APIKey:       c.cfg.APIKey,
	}
	var tok TokenResponse
	if err := c.post(ctx, "refresh", c.cfg.TokenPath, req, &tok); err != nil {
		return nil, err
	}
	if err := c.finalize(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Validate asks the provider whether token is currently valid. It never returns a Go error;
// every failure is reported through ValidationResult.Err.
func (c *Client) Validate(ctx context.Context, token string) ValidationResult {
	if token == "" {
		return ValidationResult{Err: ErrEmptyToken}
	}
	var resp validateResponse
	req := validateRequest{AccessToken: token, ChildAppID: c.cfg.ClientID}
	if err := c.post(ctx, "validate", c.cfg.ValidatePath, req, &resp); err != nil {
		return ValidationResult{Err: err}
	}
	if resp.Valid != nil && !*resp.Valid {
		return ValidationResult{Err: &RejectedError{StatusCode: http.StatusOK, Code: "invalid_token", Message: "token reported invalid"}}
	}
	if resp.User == nil || resp.User.ID == "" {
		return ValidationResult{Err: fmt.Errorf("%w: validate response has no user", ErrMalformedResponse)}
	}
	return ValidationResult{Valid: true, User: resp.User}
}

// finalize fills ExpiresIn from the access token's exp claim when the provider omits it.
// The claim is read without verification and only as an expiry hint.
func (c *Client) finalize(tok *TokenResponse) error {
	if tok.AccessToken == "" {
		return fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}
	if tok.ExpiresIn > 0 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			tok.ExpiresIn = int64(exp.Sub(c.now()).Seconds())
		}
	}
	if tok.ExpiresIn <= 0 {
		return fmt.Errorf("%w: no usable expiry", ErrMalformedResponse)
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "idp."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("idp.path", path)),
	)
	defer span.End()

	err := c.do(ctx, path, body, out, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Client) do(ctx context.Context, path string, body, out any, span trace.Span) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("idp: marshal request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("idp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejection(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func rejection(status int, raw []byte) error {
	rej := &RejectedError{StatusCode: status, Message: http.StatusText(status)}
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		rej.Code = eb.Error
		switch {
		case eb.ErrorDescription != "":
			rej.Message = eb.ErrorDescription
		case eb.Message != "":
			rej.Message = eb.Message
		}
	}
	return rej
}
