package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type Credentials struct {
	User         orders.User
	PasswordHash string
}

type UserStore interface {
	FindCredentials(ctx context.Context, email string) (Credentials, error)
	GetUser(ctx context.Context, id int64) (orders.User, error)
}

type TokenStore interface {
	Save(ctx context.Context, digest string, userID int64, ttl time.Duration) error
	// Lookup returns ErrUnauthorized for unknown or expired digests.
	Lookup(ctx context.Context, digest string) (int64, error)
	Delete(ctx context.Context, digest string) error
}

type Service struct {
	users  UserStore
	tokens TokenStore
	ttl    time.Duration
}

func NewService(users UserStore, tokens TokenStore, ttl time.Duration) *Service {
	return &Service{users: users, tokens: tokens, ttl: ttl}
}

// Login checks email and password and issues a new opaque bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	creds, err := s.users.FindCredentials(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrUnauthorized
		}
		return "", errors.Wrap(err, "find credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return "", ErrUnauthorized
	}

	token := NewToken()
	if err := s.tokens.Save(ctx, Digest(token), creds.User.ID, s.ttl); err != nil {
		return "", errors.Wrap(err, "save token")
	}
	return token, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (orders.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return orders.User{}, ErrUnauthorized
	}
	userID, err := s.tokens.Lookup(ctx, Digest(token))
	if err != nil {
		return orders.User{}, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return orders.User{}, ErrUnauthorized
		}
		return orders.User{}, errors.Wrap(err, "get user")
	}
	return user, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Delete(ctx, Digest(strings.TrimSpace(token)))
}

func HashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewToken returns 64 hex chars of randomness. Only its digest is stored.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
