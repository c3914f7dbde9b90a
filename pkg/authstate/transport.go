package authstate

import (
	"errors"
	"io"
	"net/http"
)

// Transport attaches the context's bearer token to outgoing requests. A 401 triggers
// one reactive refresh and a single retry.
type Transport struct {
	Auth *Context
	Base http.RoundTripper
}

// Client returns an http.Client whose requests go through a Transport.
func (c *Context) Client(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Auth: c, Base: base}}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Auth.AccessToken()
	if err != nil {
		return nil, err
	}
	resp, err := t.base().RoundTrip(authorized(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		// body already consumed, cannot replay
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, err = t.Auth.HandleUnauthorized(req.Context())
	if err != nil {
		return nil, err
	}
	retry := authorized(req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Join(errors.New("authstate: replay request body"), err)
		}
		retry.Body = body
	}
	return t.base().RoundTrip(retry)
}

func authorized(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}
