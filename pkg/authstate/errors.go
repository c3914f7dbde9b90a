package authstate

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated = errors.New("authstate: not authenticated")
	// ErrStateMismatch means the callback state differs from the persisted one; the
	// persisted state is left untouched.
	ErrStateMismatch        = errors.New("authstate: state mismatch")
	ErrMissingCallbackParam = errors.New("authstate: callback is missing code or state")
	ErrSessionExpired       = errors.New("authstate: session expired")
	// ErrStaleRefresh is returned when a logout or new login happened while the refresh
	// was in flight; its result was discarded.
	ErrStaleRefresh = errors.New("authstate: refresh result discarded")
)

// CallbackError carries an error reported by the identity provider on the callback.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authstate: provider returned %s", e.Code)
	}
	return fmt.Sprintf("authstate: provider returned %s: %s", e.Code, e.Description)
}
