// Package ratelimit implements a fixed-window request limiter backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Counter increments a key and makes sure it expires.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

type RedisCounter struct {
	rdb redis.UniversalClient
}

func NewRedisCounter(rdb redis.UniversalClient) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

// IncrWithExpire increments a key and sets its expiration in one round trip.
func (r *RedisCounter) IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := r.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type Config struct {
	RequestsPerMinute int
	BurstSize         int
}

func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60, BurstSize: 10}
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

type Limiter struct {
	counter Counter
	cfg     Config
	window  time.Duration
	now     func() time.Time
}

func New(counter Counter, cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{counter: counter, cfg: cfg, window: time.Minute, now: time.Now}
}

// Allow counts one request for client in the current window.
func (l *Limiter) Allow(ctx context.Context, client string) (Decision, error) {
	now := l.now()
	start := now.Truncate(l.window)
	key := fmt.Sprintf("ratelimit:%s:%d", client, start.Unix())
	count, err := l.counter.IncrWithExpire(ctx, key, l.window)
	if err != nil {
		return Decision{Allowed: true, Limit: l.cfg.RequestsPerMinute}, err
	}
	remaining := l.cfg.RequestsPerMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= l.cfg.RequestsPerMinute+l.cfg.BurstSize,
		Limit:     l.cfg.RequestsPerMinute,
		Remaining: remaining,
		Reset:     start.Add(l.window),
	}, nil
}

// Middleware limits requests per client IP. Counter failures let the request through.
// deny writes the response for rejected requests.
func (l *Limiter) Middleware(deny func(c *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), "ip:"+c.ClientIP())
		if err != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if !d.Allowed {
			retry := int(d.Reset.Sub(l.now()).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retry))
			if deny != nil {
				deny(c)
			} else {
				c.AbortWithStatus(http.StatusTooManyRequests)
			}
			c.Abort()
			return
		}
		c.Next()
	}
}
