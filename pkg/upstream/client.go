// Package upstream is the client for the institutional data API. It attaches the
// server-held API key and normalizes the API's inconsistent field names into typed records.
package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	cache  Cache
	tracer trace.Tracer
	log    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithCache enables response caching for GET requests; CacheTTL must be positive.
func WithCache(cache Cache) Option { return func(c *Client) { c.cache = cache } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		tracer: otel.Tracer("mentormodule/upstream"),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListStudents(ctx context.Context, q url.Values) ([]Student, error) {
	return fetch(ctx, c, "/students", q, func(raw []byte) ([]Student, error) {
		return normalizeList("student", raw, normalizeStudent)
	})
}

func (c *Client) GetStudent(ctx context.Context, id string) (*Student, error) {
	return fetch(ctx, c, "/students/"+url.PathEscape(id), nil, func(raw []byte) (*Student, error) {
		rec, err := unwrapOne("student", raw)
		if err != nil {
			return nil, err
		}
		s, err := normalizeStudent(rec)
		if err != nil {
			return nil, &ParseError{Entity: "student", Err: err}
		}
		return &s, nil
	})
}

func (c *Client) ListStaff(ctx context.Context, q url.Values) ([]Staff, error) {
	return fetch(ctx, c, "/staff", q, func(raw []byte) ([]Staff, error) {
		return normalizeList("staff", raw, normalizeStaff)
	})
}

func (c *Client) ListInstitutions(ctx context.Context, q url.Values) ([]Institution, error) {
	return fetch(ctx, c, "/institutions", q, func(raw []byte) ([]Institution, error) {
		return normalizeList("institution", raw, normalizeInstitution)
	})
}

func cacheKey(path string, q url.Values) string {
	sum := sha256.Sum256([]byte(path + "?" + q.Encode()))
	return hex.EncodeToString(sum[:])
}

// fetch reads path through the cache. A body is cached only after parse accepts it, so
// a malformed 2xx answer is retried on the next call.
func fetch[T any](ctx context.Context, c *Client, path string, q url.Values, parse func([]byte) (T, error)) (T, error) {
	caching := c.cache != nil && c.cfg.CacheTTL > 0
	key := cacheKey(path, q)
	if caching {
		if b, ok, err := c.cache.Get(ctx, key); err != nil {
			c.log.Warn("upstream cache read failed", "error", err)
		} else if ok {
			if v, err := parse(b); err == nil {
				return v, nil
			}
		}
	}

	raw, err := c.get(ctx, path, q)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := parse(raw)
	if err != nil {
		return v, err
	}
	if caching {
		if err := c.cache.Set(ctx, key, raw, c.cfg.CacheTTL); err != nil {
			c.log.Warn("upstream cache write failed", "error", err)
		}
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "upstream.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("upstream.path", path)),
	)
	defer span.End()

	raw, err := c.do(ctx, path, q, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return raw, nil
}

func (c *Client) do(ctx context.Context, path string, q url.Values, span trace.Span) ([]byte, error) {
	endpoint := c.cfg.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}
	return raw, nil
}

func errorMessage(status int, raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.Detail != "":
			return body.Detail
		}
		if s, ok := body.Error.(string); ok && s != "" {
			return s
		}
		if m, ok := body.Error.(map[string]any); ok {
			if s, ok := m["message"].(string); ok && s != "" {
				return s
			}
		}
	}
	return http.StatusText(status)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
