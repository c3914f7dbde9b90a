package upstream

import (
	"errors"
	"fmt"
)

var ErrUnavailable = errors.New("upstream: unavailable")

// StatusError is a non-2xx answer from the data API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Message)
}

// ParseError means a record could not be normalized; the whole response is rejected.
type ParseError struct {
	Entity string
	Index  int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("upstream: %s record %d: %v", e.Entity, e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
