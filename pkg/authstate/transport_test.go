package authstate

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportRetriesOnceAfter401(t *testing.T) {
	h := newHarness(t, nil)
	h.signIn(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client := h.ctx.Client(nil)
	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(`{"q":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"q":1}`, string(out))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 1, h.provider.RefreshCalls())
}

func TestTransportRequiresSession(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ctx.Client(nil).Get("http://127.0.0.1:1/")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
