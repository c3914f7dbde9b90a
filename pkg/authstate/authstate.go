// Package authstate holds the client-side authentication state: persisted tokens, the
// proactive refresh timer, and the login, callback and logout transitions.
package authstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mentormodule/pkg/idp"
)

const (
	DefaultRefreshBuffer  = 5 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
	// refreshRetryDelay spaces out proactive retries after a transient refresh failure.
	refreshRetryDelay = 30 * time.Second
	stateBytes            = 32
)

type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// Refresher trades a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*idp.TokenResponse, error)
}

// Exchanger trades an authorization code for tokens.
type Exchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) (*idp.TokenResponse, error)
}

// StoredSession is what the server returns after persisting a session.
type StoredSession struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	RedirectURL string `json:"redirect_url"`
	Message     string `json:"message"`
}

// SessionAPI is the server side of the session bridge.
type SessionAPI interface {
	StoreSession(ctx context.Context, tok *idp.TokenResponse) (*StoredSession, error)
	Logout(ctx context.Context, accessToken string) error
}

// AuthURLBuilder is satisfied by *idp.Client.
type AuthURLBuilder interface {
	AuthorizeURL(state, redirectURI string) string
}

// Navigator sends the user agent to url.
type Navigator func(url string) error

type Config struct {
	RedirectURI    string
	RefreshBuffer  time.Duration
	RefreshTimeout time.Duration
	Clock          Clock
	Navigate       Navigator
	Logger         *slog.Logger
}

// Deps are the collaborators a Context talks to.
type Deps struct {
	Storage   Storage
	Refresher Refresher
	Exchanger Exchanger
	Sessions  SessionAPI
	AuthURL   AuthURLBuilder
}

// Snapshot is a read-only view of the context.
type Snapshot struct {
	State       State
	User        *idp.User
	AccessToken string
	ExpiresAt   time.Time
	SessionID   string
}

// Context is one authentication context. It is safe for concurrent use; at most one
// refresh runs at a time.
type Context struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	flight singleflight.Group

	mu          sync.Mutex
	state       State
	user        *idp.User
	accessToken string
	expiresAt   time.Time
	sessionID   string
	// epoch changes on every login, logout and committed refresh; async work started in
	// an older epoch must not commit.
	epoch uint64
	timer Task
}

func New(cfg Config, deps Deps) *Context {
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Context{
		cfg:   cfg,
		deps:  deps,
		log:   cfg.Logger.With("component", "authstate"),
		state: StateLoading,
	}
}

func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:       c.state,
		User:        c.user,
		AccessToken: c.accessToken,
		ExpiresAt:   c.expiresAt,
		SessionID:   c.sessionID,
	}
}

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AccessToken returns the current bearer token, or ErrNotAuthenticated.
func (c *Context) AccessToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return "", ErrNotAuthenticated
	}
	return c.accessToken, nil
}

type persisted struct {
	accessToken  string
	refreshToken string
	user         *idp.User
	expiresAt    time.Time
	sessionID    string
}

func (c *Context) load() (*persisted, error) {
	get := func(key string) (string, error) {
		v, _, err := c.deps.Storage.Get(key)
		return v, err
	}
	var p persisted
	var err error
	if p.accessToken, err = get(KeyAccessToken); err != nil {
		return nil, err
	}
	if p.refreshToken, err = get(KeyRefreshToken); err != nil {
		return nil, err
	}
	if p.sessionID, err = get(KeySessionID); err != nil {
		return nil, err
	}
	rawUser, err := get(KeyUser)
	if err != nil {
		return nil, err
	}
	if rawUser != "" {
		var u idp.User
		if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
			return nil, fmt.Errorf("decode persisted user: %w", err)
		}
		p.user = &u
	}
	rawExp, err := get(KeyTokenExpiresAt)
	if err != nil {
		return nil, err
	}
	if rawExp != "" {
		ms, err := strconv.ParseInt(rawExp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode token_expires_at: %w", err)
		}
		p.expiresAt = time.UnixMilli(ms)
	}
	return &p, nil
}

// Init reads persisted credentials and settles into authenticated or unauthenticated,
// refreshing silently first when the stored access token has already expired.
func (c *Context) Init(ctx context.Context) (State, error) {
	c.mu.Lock()
	c.state = StateLoading
	c.mu.Unlock()

	p, err := c.load()
	if err != nil {
		c.log.Warn("discarding unreadable credentials", "error", err)
		c.mu.Lock()
		defer c.mu.Unlock()
		err = c.terminateLocked()
		return StateUnauthenticated, err
	}

	if p.accessToken == "" || p.user == nil || p.expiresAt.IsZero() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if p.accessToken == "" && p.refreshToken == "" && p.user == nil {
			// nothing stored; oauth_state of a pending login stays
			c.settleUnauthenticatedLocked()
			return StateUnauthenticated, nil
		}
		return StateUnauthenticated, c.terminateLocked()
	}

	c.mu.Lock()
	c.user = p.user
	c.accessToken = p.accessToken
	c.expiresAt = p.expiresAt
	c.sessionID = p.sessionID
	now := c.cfg.Clock.Now()
	if !IsTokenExpired(p.expiresAt, now, 0) {
		c.state = StateAuthenticated
		c.armLocked()
		c.mu.Unlock()
		return StateAuthenticated, nil
	}
	if p.refreshToken == "" {
		defer c.mu.Unlock()
		return StateUnauthenticated, c.terminateLocked()
	}
	epoch := c.epoch
	c.mu.Unlock()

	if _, err := c.refresh(ctx, epoch); err != nil {
		c.log.Info("silent refresh on init failed", "error", err)
		c.mu.Lock()
		if c.state == StateLoading {
			// transient failure: credentials stay stored for the next Init
			c.settleUnauthenticatedLocked()
		}
		c.mu.Unlock()
	}
	return c.State(), nil
}

// Close cancels the refresh timer without touching persisted credentials.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimerLocked()
	c.epoch++
}

// Login persists a fresh anti-CSRF state and returns the authorize URL, handing it to
// the configured Navigator when there is one.
func (c *Context) Login() (string, error) {
	state, err := NewState()
	if err != nil {
		return "", err
	}
	if err := c.deps.Storage.SetMany(map[string]string{KeyOAuthState: state}); err != nil {
		return "", fmt.Errorf("persist oauth state: %w", err)
	}
	u := c.deps.AuthURL.AuthorizeURL(state, c.cfg.RedirectURI)
	if c.cfg.Navigate != nil {
		if err := c.cfg.Navigate(u); err != nil {
			return u, fmt.Errorf("navigate to provider: %w", err)
		}
	}
	return u, nil
}

// NewState returns 32 random bytes encoded as unpadded base64url.
func NewState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Refresh runs the refresh flow. Concurrent callers share one token endpoint call.
func (c *Context) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	st, epoch := c.state, c.epoch
	c.mu.Unlock()
	if st == StateUnauthenticated {
		return "", ErrNotAuthenticated
	}
	return c.refresh(ctx, epoch)
}

// HandleUnauthorized is called when an API call came back 401. It refreshes and
// returns the new access token.
func (c *Context) HandleUnauthorized(ctx context.Context) (string, error) {
	return c.Refresh(ctx)
}

// refresh joins the shared flight. The flight runs detached from ctx so a caller that
// gives up does not decide the outcome for the others; it is bounded by RefreshTimeout.
func (c *Context) refresh(ctx context.Context, epoch uint64) (string, error) {
	fctx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("refresh", func() (any, error) {
		return c.runRefresh(fctx, epoch)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// transientRefreshError reports whether a refresh failed without the provider refusing
// the refresh token. Such failures keep the session.
func transientRefreshError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, idp.ErrTimeout) ||
		errors.Is(err, idp.ErrUnavailable)
}

func (c *Context) runRefresh(ctx context.Context, epoch uint64) (string, error) {
	c.mu.Lock()
	if c.epoch != epoch {
		// a refresh or logout already happened after this one was requested
		defer c.mu.Unlock()
		if c.state == StateAuthenticated {
			return c.accessToken, nil
		}
		return "", ErrNotAuthenticated
	}
	var userID string
	if c.user != nil {
		userID = c.user.ID
	}
	c.mu.Unlock()

	rt, _, err := c.deps.Storage.Get(KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}

	var tok *idp.TokenResponse
	if rt != "" {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
		tok, err = c.deps.Refresher.Refresh(rctx, rt)
		cancel()
	} else {
		err = errors.New("no refresh token")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return "", ErrStaleRefresh
	}
	if err == nil && tok == nil {
		err = errors.New("empty token response")
	}
	if err == nil && tok.User != nil && userID != "" && tok.User.ID != userID {
		err = fmt.Errorf("refresh returned user %s, expected %s", tok.User.ID, userID)
	}
	if err != nil && transientRefreshError(err) {
		c.log.Warn("token refresh failed, keeping session", "error", err)
		if c.state == StateAuthenticated {
			c.armAfterLocked(refreshRetryDelay)
		}
		return "", err
	}
	if err != nil {
		c.log.Warn("token refresh failed, signing out", "error", err)
		if terr := c.terminateLocked(); terr != nil {
			c.log.Error("clear credentials", "error", terr)
		}
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = rt
	}
	user := tok.User
	if user == nil {
		user = c.user
	}
	if err := c.commitLocked(tok, user, tok.SessionID); err != nil {
		return "", err
	}
	c.log.Debug("token refreshed", "expires_at", c.expiresAt)
	return c.accessToken, nil
}

// commitLocked persists a token set, enters authenticated and re-arms the timer.
func (c *Context) commitLocked(tok *idp.TokenResponse, user *idp.User, sessionID string) error {
	if user == nil {
		return fmt.Errorf("%w: token response has no user", idp.ErrMalformedResponse)
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return err
	}
	expiresAt := tok.ExpiresAt(c.cfg.Clock.Now())
	values := map[string]string{
		KeyAccessToken:    tok.AccessToken,
		KeyRefreshToken:   tok.RefreshToken,
		KeyUser:           string(rawUser),
		KeyTokenExpiresAt: strconv.FormatInt(expiresAt.UnixMilli(), 10),
	}
	if sessionID != "" {
		values[KeySessionID] = sessionID
	} else {
		sessionID = c.sessionID
	}
	if err := c.deps.Storage.SetMany(values); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	c.epoch++
	c.state = StateAuthenticated
	c.user = user
	c.accessToken = tok.AccessToken
	c.expiresAt = expiresAt
	c.sessionID = sessionID
	c.armLocked()
	return nil
}

// Logout clears local credentials and asks the server to drop the user's sessions.
// Calling it again once signed out does nothing.
func (c *Context) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.accessToken
	err := c.terminateLocked()
	c.mu.Unlock()

	if token != "" && c.deps.Sessions != nil {
		if lerr := c.deps.Sessions.Logout(ctx, token); lerr != nil {
			c.log.Warn("server logout failed", "error", lerr)
			err = errors.Join(err, lerr)
		}
	}
	return err
}

// terminateLocked clears every persisted field in one call and settles unauthenticated.
func (c *Context) terminateLocked() error {
	c.settleUnauthenticatedLocked()
	if err := c.deps.Storage.Delete(AllKeys...); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (c *Context) settleUnauthenticatedLocked() {
	c.cancelTimerLocked()
	c.epoch++
	c.state = StateUnauthenticated
	c.user = nil
	c.accessToken = ""
	c.expiresAt = time.Time{}
	c.sessionID = ""
}

func (c *Context) armLocked() {
	c.armAfterLocked(0)
}

// armAfterLocked arms the refresh timer no sooner than floor from now.
func (c *Context) armAfterLocked(floor time.Duration) {
	c.cancelTimerLocked()
	delay := c.expiresAt.Add(-c.cfg.RefreshBuffer).Sub(c.cfg.Clock.Now())
	if delay < floor {
		delay = floor
	}
	epoch := c.epoch
	c.timer = c.cfg.Clock.AfterFunc(delay, func() { c.onTimer(epoch) })
}

func (c *Context) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Context) onTimer(epoch uint64) {
	c.mu.Lock()
	stale := c.epoch != epoch || c.state != StateAuthenticated
	c.mu.Unlock()
	if stale {
		return
	}
	if _, err := c.refresh(context.Background(), epoch); err != nil && !errors.Is(err, ErrStaleRefresh) {
		c.log.Warn("proactive refresh failed", "error", err)
	}
}
