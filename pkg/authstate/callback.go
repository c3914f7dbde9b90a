package authstate

import (
	"context"
	"fmt"
)

// CallbackParams are the query parameters the provider appends to the redirect URI.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is returned after a successful login.
type CallbackResult struct {
	RedirectURL string
	Session     *StoredSession
}

// CompleteCallback finishes a login. The state must match the persisted oauth_state
// exactly; on mismatch nothing is exchanged and the stored state is kept.
func (c *Context) CompleteCallback(ctx context.Context, p CallbackParams) (*CallbackResult, error) {
	if p.Error != "" {
		return nil, &CallbackError{Code: p.Error, Description: p.ErrorDescription}
	}
	if p.Code == "" || p.State == "" {
		return nil, ErrMissingCallbackParam
	}
	stored, ok, err := c.deps.Storage.Get(KeyOAuthState)
	if err != nil {
		return nil, fmt.Errorf("read oauth state: %w", err)
	}
	if !ok || stored == "" || stored != p.State {
		c.log.Warn("callback state mismatch")
		return nil, ErrStateMismatch
	}

	tok, err := c.deps.Exchanger.Exchange(ctx, p.Code, c.cfg.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	// the code is spent; the state cannot be replayed
	if err := c.deps.Storage.Delete(KeyOAuthState); err != nil {
		return nil, fmt.Errorf("clear oauth state: %w", err)
	}

	sess, err := c.deps.Sessions.StoreSession(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	c.mu.Lock()
	err = c.commitLocked(tok, tok.User, sess.SessionID)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.log.Info("signed in", "session_id", sess.SessionID)
	return &CallbackResult{RedirectURL: sess.RedirectURL, Session: sess}, nil
}
