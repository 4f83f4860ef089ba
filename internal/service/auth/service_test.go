package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
	"github.com/ceer-lab/ceer/pkg/config"
	"github.com/ceer-lab/ceer/pkg/crypto"
	jwtpkg "github.com/ceer-lab/ceer/pkg/jwt"
)

func testConfig() config.APIConfig {
	return config.APIConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func facultyUser(t *testing.T) *domain.User {
	t.Helper()
	hash, err := crypto.HashPassword("Testing123!")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &domain.User{ID: "fac-1", Email: "guide@ceer.test", Name: "Guide", Role: domain.RoleFaculty, PasswordHash: hash}
}

func TestLoginIssuesTokensCarryingRole(t *testing.T) {
	user := facultyUser(t)
	users := userRepoMock{
		getByEmailFunc: func(_ context.Context, email string) (*domain.User, error) {
			if email != "guide@ceer.test" {
				t.Fatalf("expected normalized email lookup, got %q", email)
			}
			return user, nil
		},
	}
	svc := New(users, newLogger(), testConfig())

	got, tokens, err := svc.Login(context.Background(), "  Guide@CEER.test ", "Testing123!", domain.RoleFaculty)
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got.ID)
	}
	claims, err := jwtpkg.Parse(tokens.AccessToken, "test-secret")
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Role != "faculty" || claims.UserID != user.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if tokens.ExpiresIn != time.Minute {
		t.Fatalf("expected access ttl to be reported, got %s", tokens.ExpiresIn)
	}
}

func TestLoginRejectsWrongRoleOrPassword(t *testing.T) {
	user := facultyUser(t)
	users := userRepoMock{
		getByEmailFunc: func(context.Context, string) (*domain.User, error) { return user, nil },
	}
	svc := New(users, newLogger(), testConfig())

	if _, _, err := svc.Login(context.Background(), user.Email, "Testing123!", domain.RoleStudent); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong role, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), user.Email, "wrong-password", domain.RoleFaculty); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	svc = New(userRepoMock{}, newLogger(), testConfig())
	if _, _, err := svc.Login(context.Background(), "nobody@ceer.test", "Testing123!", domain.RoleFaculty); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestAuthorizeRejectsStaleRole(t *testing.T) {
	user := facultyUser(t)
	token, err := jwtpkg.GenerateToken(user.ID, "admin", "test-secret", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	users := userRepoMock{
		getByIDFunc: func(context.Context, string) (*domain.User, error) { return user, nil },
	}
	svc := New(users, newLogger(), testConfig())

	if _, _, err := svc.Authorize(context.Background(), token); !errors.Is(err, ErrRoleMismatch) {
		t.Fatalf("expected ErrRoleMismatch, got %v", err)
	}
	if _, _, err := svc.Authorize(context.Background(), "   "); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}
}

func TestAuthorizeReturnsUser(t *testing.T) {
	user := facultyUser(t)
	token, err := jwtpkg.GenerateToken(user.ID, "faculty", "test-secret", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	users := userRepoMock{
		getByIDFunc: func(_ context.Context, id string) (*domain.User, error) {
			if id != user.ID {
				t.Fatalf("unexpected lookup %s", id)
			}
			return user, nil
		},
	}
	svc := New(users, newLogger(), testConfig())
	got, claims, err := svc.Authorize(context.Background(), "Bearer-less "+token)
	if err == nil {
		t.Fatalf("expected malformed token to fail, got user %v claims %v", got, claims)
	}
	got, _, err = svc.Authorize(context.Background(), token)
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, got.ID)
	}
}

func TestChangePassword(t *testing.T) {
	user := facultyUser(t)
	user.FirstLogin = true
	var (
		stored     []byte
		firstLogin = true
	)
	users := userRepoMock{
		getByIDFunc: func(context.Context, string) (*domain.User, error) { return user, nil },
		updatePasswordFunc: func(_ context.Context, id string, hash []byte, first bool) error {
			stored = hash
			firstLogin = first
			return nil
		},
	}
	svc := New(users, newLogger(), testConfig())

	if err := svc.ChangePassword(context.Background(), user.ID, "nope", "Another123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(context.Background(), user.ID, "Testing123!", "short"); !errors.Is(err, crypto.ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := svc.ChangePassword(context.Background(), user.ID, "Testing123!", "Another123!"); err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}
	if err := crypto.ComparePassword(stored, "Another123!"); err != nil {
		t.Fatalf("expected new hash to be persisted: %v", err)
	}
	if firstLogin {
		t.Fatal("expected password change to clear the first-login flag")
	}
}

type userRepoMock struct {
	createFunc         func(context.Context, *domain.User) error
	getByEmailFunc     func(context.Context, string) (*domain.User, error)
	getByIDFunc        func(context.Context, string) (*domain.User, error)
	updatePasswordFunc func(context.Context, string, []byte, bool) error
}

func (m userRepoMock) CreateUser(ctx context.Context, user *domain.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m userRepoMock) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.getByEmailFunc != nil {
		return m.getByEmailFunc(ctx, email)
	}
	return nil, repository.ErrNotFound
}

func (m userRepoMock) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m userRepoMock) ListUsersByRole(context.Context, domain.Role) ([]domain.User, error) {
	return nil, nil
}

func (m userRepoMock) ListUsersByIDs(context.Context, []string) ([]domain.User, error) {
	return nil, nil
}

func (m userRepoMock) UpdatePassword(ctx context.Context, userID string, hash []byte, firstLogin bool) error {
	if m.updatePasswordFunc != nil {
		return m.updatePasswordFunc(ctx, userID, hash, firstLogin)
	}
	return nil
}

func (m userRepoMock) DeleteUser(context.Context, string) error {
	return nil
}
