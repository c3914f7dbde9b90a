package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"mentormodule/pkg/idp"
	"mentormodule/pkg/ratelimit"
	"mentormodule/pkg/rolegate"
	"mentormodule/pkg/session"
	"mentormodule/pkg/upstream"
)

type identityProvider interface {
	AuthorizeURL(state, redirectURI string) string
	Exchange(ctx context.Context, code, redirectURI string) (*idp.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*idp.TokenResponse, error)
	Validate(ctx context.Context, token string) idp.ValidationResult
}

type dataAPI interface {
	ListStudents(ctx context.Context, q url.Values) ([]upstream.Student, error)
	GetStudent(ctx context.Context, id string) (*upstream.Student, error)
	ListStaff(ctx context.Context, q url.Values) ([]upstream.Staff, error)
	ListInstitutions(ctx context.Context, q url.Values) ([]upstream.Institution, error)
}

// app carries the server's dependencies; handlers are its methods.
type app struct {
	cfg       *Config
	log       *slog.Logger
	db        *gorm.DB
	idp       identityProvider
	sessions  *session.Service
	dir       session.Directory
	gate      *rolegate.Gate
	data      dataAPI
	cookies   sessions.Store
	limiter   *ratelimit.Limiter
	validated *validationCache
	adminHash []byte
}

func newCookieStore(cfg AuthConfig) sessions.Store {
	store := sessions.NewCookieStore([]byte(cfg.CookieSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   24 * 60 * 60,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// newApp wires the production dependencies around an open database.
func newApp(cfg *Config, logger *slog.Logger, db *gorm.DB, gate *rolegate.Gate) *app {
	idpClient := idp.NewClient(idp.Config{
		BaseURL:     cfg.IdP.BaseURL,
		ClientID:    cfg.IdP.ClientID,
		APIKey:      cfg.IdP.APIKey,
		RedirectURL: cfg.IdP.RedirectURL,
		Scopes:      cfg.IdP.Scopes,
		Timeout:     cfg.IdP.Timeout,
	})

	upOpts := []upstream.Option{upstream.WithLogger(logger)}
	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, rate limiting and upstream cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			upOpts = append(upOpts, upstream.WithCache(upstream.NewRedisCache(rdb)))
			limiter = ratelimit.New(ratelimit.NewRedisCounter(rdb), ratelimit.Config{RequestsPerMinute: cfg.Auth.RateLimitPerMin, BurstSize: 10})
		}
	}
	data := upstream.NewClient(upstream.Config{
		BaseURL:  cfg.Upstream.BaseURL,
		APIKey:   cfg.Upstream.APIKey,
		Timeout:  cfg.Upstream.Timeout,
		CacheTTL: cfg.Upstream.CacheTTL,
	}, upOpts...)

	dir := session.NewGormDirectory(db)
	a := &app{
		cfg:       cfg,
		log:       logger,
		db:        db,
		idp:       idpClient,
		sessions:  session.NewService(session.NewGormStore(db), dir, gate, logger),
		dir:       dir,
		gate:      gate,
		data:      data,
		cookies:   newCookieStore(cfg.Auth),
		limiter:   limiter,
		validated: newValidationCache(),
	}
	if cfg.Auth.AdminKeyHash != "" {
		a.adminHash = []byte(cfg.Auth.AdminKeyHash)
	}
	return a
}

// validationCache remembers when a session's access token was last confirmed by the
// identity provider.
type validationCache struct {
	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
}

func newValidationCache() *validationCache {
	return &validationCache{seen: make(map[uuid.UUID]time.Time)}
}

func (v *validationCache) fresh(id uuid.UUID, now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	at, ok := v.seen[id]
	return ok && now.Sub(at) < interval
}

func (v *validationCache) mark(id uuid.UUID, now time.Time, interval time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.seen) > 10000 {
		for k, at := range v.seen {
			if now.Sub(at) >= interval {
				delete(v.seen, k)
			}
		}
	}
	v.seen[id] = now
}
