package authstate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"mentormodule/pkg/idp"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*fakeTask
}

type fakeTask struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTask{clock: c, at: c.now.Add(d), f: f}
	c.tasks = append(c.tasks, t)
	return t
}

// Advance moves time forward and runs due tasks on the calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTask
	for _, t := range c.tasks {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// Pending returns the fire times of tasks that are neither stopped nor fired.
func (c *fakeClock) Pending() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Time
	for _, t := range c.tasks {
		if !t.stopped && !t.fired {
			out = append(out, t.at)
		}
	}
	return out
}

func (t *fakeTask) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeProvider stands in for the identity provider.
type fakeProvider struct {
	mu            sync.Mutex
	refreshCalls  int
	exchangeCalls int
	user          *idp.User
	// started is signalled on every refresh call when non-nil; release blocks it.
	started chan struct{}
	release chan struct{}
	failRefresh error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{user: &idp.User{ID: "u-1", Email: "dosen@college.edu", FullName: "Dosen Satu", Role: "faculty"}}
}

func (p *fakeProvider) AuthorizeURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", "mentor-app")
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	return "https://id.example.edu/oauth/authorize?" + q.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, code, _ string) (*idp.TokenResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCalls++
	if code == "bad" {
		return nil, &idp.RejectedError{StatusCode: 400, Code: "invalid_grant"}
	}
	return &idp.TokenResponse{AccessToken: "access-0", RefreshToken: "refresh-0", ExpiresIn: 3600, User: p.user}, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*idp.TokenResponse, error) {
	p.mu.Lock()
	p.refreshCalls++
	n := p.refreshCalls
	started, release, fail := p.started, p.release, p.failRefresh
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	if refreshToken == "" {
		return nil, errors.New("empty refresh token")
	}
	return &idp.TokenResponse{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		ExpiresIn:    3600,
		User:         p.user,
	}, nil
}

func (p *fakeProvider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

type fakeSessions struct {
	mu          sync.Mutex
	logoutCalls int
	stored      int
	deny        error
}

func (s *fakeSessions) StoreSession(_ context.Context, tok *idp.TokenResponse) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deny != nil {
		return nil, s.deny
	}
	s.stored++
	return &StoredSession{
		SessionID:   fmt.Sprintf("sess-%d", s.stored),
		UserID:      tok.User.ID,
		RedirectURL: "/dashboard/faculty",
		Message:     "session stored",
	}, nil
}

func (s *fakeSessions) Logout(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutCalls++
	return nil
}
