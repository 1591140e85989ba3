// Package auth verifies credentials against the user store and issues session tokens.
package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Service implements signup, password login and token login.
type Service struct {
	users storage.UserStore
	jwt   config.JWTConfig
	cost  int
	now   func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCost overrides the bcrypt cost.
func WithCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// WithClock overrides the time source used for token issue and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service over users, signing tokens with cfg.
func NewService(users storage.UserStore, cfg config.JWTConfig, opts ...Option) *Service {
	s := &Service{users: users, jwt: cfg, cost: defaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp creates a user. It returns storage.ErrUserExists for a taken name.
func (s *Service) SignUp(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return storage.ErrUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	hashed, err := HashPassword(password, s.cost)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	return s.users.CreateUser(ctx, &storage.User{
		Username:  username,
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Login checks a username and password pair.
func (s *Service) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if err := ComparePassword(user.Password, password); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// LoginWithToken accepts a token previously issued to username.
func (s *Service) LoginWithToken(ctx context.Context, username, token string) error {
	claims, err := ParseToken(s.jwt, token)
	if err != nil || claims.Username != username {
		return ErrInvalidToken
	}
	if _, err := s.users.GetUserByUsername(ctx, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	return nil
}

// IssueToken signs a session token for username.
func (s *Service) IssueToken(username string) (string, error) {
	return NewToken(s.jwt, username, s.now())
}
