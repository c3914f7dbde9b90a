package idp

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyToken is returned when a blank token is presented.
	ErrEmptyToken = errors.New("idp: empty token")
	// ErrTimeout is returned when the identity provider does not answer within the configured timeout.
	ErrTimeout = errors.New("idp: request timed out")
	// ErrUnavailable covers transport failures (DNS, connection refused, reset).
	ErrUnavailable = errors.New("idp: provider unavailable")
	// ErrMalformedResponse is returned when a 2xx body cannot be used.
	ErrMalformedResponse = errors.New("idp: malformed response")
)

// RejectedError is a non-2xx answer from the identity provider.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("idp: rejected (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("idp: rejected (%d): %s", e.StatusCode, e.Message)
}

// IsRejected reports whether err is a provider rejection, i.e. the credential itself was refused.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}
