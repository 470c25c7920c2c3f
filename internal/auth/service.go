package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultIssuer   = "prestacao"
	defaultTokenTTL = 24 * time.Hour
)

var errMissingSecret = errors.New("auth: token secret is not configured")

// Service issues and verifies session tokens. The signing secret belongs to
// the instance; there is no process-wide auth state.
type Service struct {
	users  UserStore
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSecret sets the HS256 signing secret. Required.
func WithSecret(secret string) ServiceOption {
	return func(s *Service) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errMissingSecret
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithTokenTTL configures session lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < 0 {
			return fmt.Errorf("auth: negative token ttl %s", ttl)
		}
		if ttl > 0 {
			s.ttl = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		users:  users,
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errMissingSecret
	}
	return svc, nil
}

// TokenTTL reports how long issued tokens stay valid.
func (s *Service) TokenTTL() time.Duration { return s.ttl }

// Login checks credentials and issues a session token. Unknown email and
// wrong password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnDecoy(password)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	token, exp, err := s.IssueToken(user)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, User: user}, nil
}

// Authenticate validates a bearer token and returns the principal it carries.
func (s *Service) Authenticate(token string) (Principal, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// EnsureUser provisions a user unless one with the email already exists.
// The boolean reports whether a user was created.
func (s *Service) EnsureUser(ctx context.Context, email, password string, role Role) (User, bool, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, false, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < 6 {
		return User{}, false, fmt.Errorf("%w: password must have at least 6 characters", ErrInvalidInput)
	}
	if !role.Valid() {
		return User{}, false, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	existing, err := s.users.FindUserByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return User{}, false, err
	}
	created, err := s.users.CreateUser(ctx, User{Email: email, PasswordHash: hash, Role: role})
	if errors.Is(err, ErrAlreadyExists) {
		// lost a race with another provisioner
		existing, err := s.users.FindUserByEmail(ctx, email)
		return existing, false, err
	}
	if err != nil {
		return User{}, false, err
	}
	return created, true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
