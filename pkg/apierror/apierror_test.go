package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessDeniedNamesRole(t *testing.T) {
	err := AccessDenied("student")
	assert.Equal(t, "access_denied", err.Code)
	assert.Equal(t, http.StatusForbidden, err.StatusCode)
	assert.Contains(t, err.Message, "student")
	assert.Equal(t, map[string]string{"role": "student"}, err.Details)
}

func TestAccessDeniedEmptyRole(t *testing.T) {
	err := AccessDenied("")
	assert.Contains(t, err.Message, "(none)")
}

func TestFromUpstreamClampsStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, FromUpstream(200, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, FromUpstream(404, "missing").StatusCode)
	assert.Equal(t, ErrUpstream.Message, FromUpstream(0, "").Message)
}

func TestAsUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", ErrConflict)
	assert.Same(t, ErrConflict, As(wrapped))
	assert.Same(t, ErrInternal, As(errors.New("boom")))
}

func TestWithMessageCopies(t *testing.T) {
	e := ErrNotFound.WithMessage("mentor not found")
	assert.Equal(t, "mentor not found", e.Message)
	assert.Equal(t, "Resource not found", ErrNotFound.Message)
}
