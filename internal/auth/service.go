package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/wiredm/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Session is the result of a successful register or login.
type Session struct {
	Token string
	User  *store.User
}

// Service provides authentication operations and identity lookups.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new user with hashed password and returns a session.
func (s *Service) Register(ctx context.Context, username, fullName, password string) (*Session, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		fullName = username
	}

	// Check if user already exists
	existing, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil && existing != nil:
		return nil, ErrUserExists
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("get user: %w", err)
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, username, fullName, hashedPassword)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.issue(user)
}

// Login validates credentials and returns a session.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	switch {
	case errors.Is(err, store.ErrNotFound):
		ComparePassword("", password)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("get user: %w", err)
	}

	if !ComparePassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// UserExists reports whether id names a registered user.
func (s *Service) UserExists(ctx context.Context, id int64) (bool, error) {
	_, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	return true, nil
}

func (s *Service) issue(user *store.User) (*Session, error) {
	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Session{Token: token, User: user}, nil
}
