package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
	"github.com/ceer-lab/ceer/pkg/config"
	"github.com/ceer-lab/ceer/pkg/crypto"
	jwtpkg "github.com/ceer-lab/ceer/pkg/jwt"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and wrong role alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenRequired is returned when no bearer token was presented.
	ErrTokenRequired = errors.New("token required")
	// ErrRoleMismatch is returned when a token's role no longer matches the stored account.
	ErrRoleMismatch = errors.New("token role does not match account")
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// TokenPair contains access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Login authenticates a user signing in under the given role and returns tokens.
func (s Service) Login(ctx context.Context, email, password string, role domain.Role) (*domain.User, TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" || !role.Valid() {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if user.Role != role {
		s.logger.Warn("login role mismatch", "user_id", user.ID, "requested_role", role)
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID, "role", user.Role)
	return user, tokens, nil
}

// Refresh exchanges a valid token for a new pair.
func (s Service) Refresh(ctx context.Context, refreshToken string) (*domain.User, TokenPair, error) {
	user, _, err := s.Authorize(ctx, refreshToken)
	if err != nil {
		return nil, TokenPair{}, err
	}
	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, tokens, nil
}

// Authorize validates a bearer token and returns the associated user and claims.
// The role carried by the token must still match the stored account.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrTokenRequired
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user.Role != role {
		return nil, nil, ErrRoleMismatch
	}
	return user, claims, nil
}

// ChangePassword replaces the user's password after verifying the current one
// and clears the first-login flag.
func (s Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := crypto.ComparePassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := crypto.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, false); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.logger.Info("password changed", "user_id", user.ID)
	return nil
}

func (s Service) issueTokens(user *domain.User) (TokenPair, error) {
	access, err := jwtpkg.GenerateToken(user.ID, user.Role.String(), s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := jwtpkg.GenerateToken(user.ID, user.Role.String(), s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
