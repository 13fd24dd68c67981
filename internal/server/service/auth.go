package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"coffer/internal/core"
	"coffer/internal/server/database"
)

// PrincipalStore is the persistence seam for principals;
// *database.PrincipalRepository satisfies it.
type PrincipalStore interface {
	Create(ctx context.Context, p *database.Principal) error
	GetByID(ctx context.Context, id string) (*database.Principal, error)
	GetByUsername(ctx context.Context, username string) (*database.Principal, error)
}

// AuthService maps credentials to principals and issues session tokens.
// It is the principal-identity resolver the access-control core consumes.
type AuthService struct {
	principals PrincipalStore
	clock      core.Clock
	secret     []byte
	tokenTTL   time.Duration
}

// NewAuthService creates a new auth service.
func NewAuthService(principals PrincipalStore, clock core.Clock, secret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		principals: principals,
		clock:      clock,
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
	}
}

// Register creates a new principal with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, username, password string) (*database.Principal, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	p := &database.Principal{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.principals.Create(ctx, p); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}
	return p, nil
}

// Login verifies credentials and returns a signed session token.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	p, err := s.principals.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrPrincipalNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to load principal: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   p.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify parses a session token and returns the principal ID it names.
func (s *AuthService) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.clock.Now() }))
	if err != nil {
		return "", ErrNotAuthenticated
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrNotAuthenticated
	}
	return claims.Subject, nil
}
