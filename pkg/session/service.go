package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mentormodule/models"
	"mentormodule/pkg/idp"
	"mentormodule/pkg/rolegate"
)

// ErrInvalidRequest marks a malformed store-session request.
var ErrInvalidRequest = errors.New("session: invalid request")

// StoreRequest is the body of the store-session operation.
type StoreRequest struct {
	User         *idp.User `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	UserAgent    string    `json:"-"`
}

// StoreResult is returned after a session is persisted.
type StoreResult struct {
	SessionID   uuid.UUID    `json:"session_id"`
	UserID      uuid.UUID    `json:"user_id"`
	RedirectURL string       `json:"redirect_url"`
	Message     string       `json:"message"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user,omitempty"`
}

// Service bridges a token pair from the identity provider into a server-side session.
type Service struct {
	store  Store
	dir    Directory
	gate   *rolegate.Gate
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a Service. logger may be nil.
func NewService(store Store, dir Directory, gate *rolegate.Gate, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, dir: dir, gate: gate, logger: logger, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now is the service clock.
func (s *Service) Now() time.Time { return s.now() }

// StoreSession admits the user through the role gate, upserts the user, creates the mentor
// record for faculty on first login and persists a new session.
func (s *Service) StoreSession(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if req.User == nil || req.User.ID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	if req.AccessToken == "" {
		return nil, fmt.Errorf("%w: access_token is required", ErrInvalidRequest)
	}
	if req.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: expires_in must be positive", ErrInvalidRequest)
	}
	route, err := s.gate.DefaultRoute(req.User.Role)
	if err != nil {
		s.logger.Warn("login denied", slog.String("role", req.User.Role), slog.String("external_id", req.User.ID))
		return nil, err
	}

	now := s.now()
	user, err := s.dir.UpsertUser(ctx, req.User, now)
	if err != nil {
		return nil, err
	}
	if user.Role == rolegate.RoleFaculty {
		m, created, err := s.dir.EnsureMentor(ctx, user)
		if err != nil {
			return nil, err
		}
		if created {
			s.logger.Info("mentor record created", slog.String("user_id", user.ID.String()), slog.Uint64("mentor_id", uint64(m.ID)))
		}
	}

	sess := &models.Session{
		UserID:          user.ID,
		AccessTokenHash: HashToken(req.AccessToken),
		ExpiresAt:       now.Add(time.Duration(req.ExpiresIn) * time.Second),
		UserAgent:       req.UserAgent,
	}
	if req.RefreshToken != "" {
		sess.RefreshTokenHash = HashToken(req.RefreshToken)
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	return &StoreResult{
		SessionID:   sess.ID,
		UserID:      user.ID,
		RedirectURL: route,
		Message:     "session stored",
		ExpiresAt:   sess.ExpiresAt,
		User:        user,
	}, nil
}

// Authenticate resolves a live session and its user from a bearer access token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.Session, *models.User, error) {
	if accessToken == "" {
		return nil, nil, ErrNotFound
	}
	sess, err := s.store.FindByAccessToken(ctx, accessToken, s.now())
	if err != nil {
		return nil, nil, err
	}
	return s.withUser(ctx, sess)
}

// Resume resolves a live session and its user by session id.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*models.Session, *models.User, error) {
	sess, err := s.store.FindByID(ctx, id, s.now())
	if err != nil {
		return nil, nil, err
	}
	return s.withUser(ctx, sess)
}

func (s *Service) withUser(ctx context.Context, sess *models.Session) (*models.Session, *models.User, error) {
	user, err := s.dir.UserByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	return sess, user, nil
}

// Logout deletes every session of the user. Deleting nothing is not an error.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.DeleteByUser(ctx, userID)
}

// PurgeExpired removes sessions past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpired(ctx, s.now())
}
