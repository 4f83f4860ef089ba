package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
	"github.com/ceer-lab/ceer/pkg/crypto"
)

var (
	// ErrForbidden is returned when a non-admin manages accounts.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput reports a malformed account payload.
	ErrInvalidInput = errors.New("invalid user input")
	// ErrEmailTaken is returned when another account already uses the email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserInUse is returned when deleting a guide or a user referenced by a BOM.
	ErrUserInUse = errors.New("user still guides a team or is referenced by a bom")
)

// Service manages lab accounts.
type Service struct {
	repo   repository.UserRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(repo repository.UserRepository, logger *slog.Logger) Service {
	return Service{repo: repo, logger: logger}
}

// CreateInput describes a new account.
type CreateInput struct {
	Name       string
	Email      string
	Password   string
	Role       string
	Department string
}

// Create registers an account. Only admins may create accounts; the role is fixed
// at creation. The account must change its password on first login.
func (s Service) Create(ctx context.Context, actor domain.User, input CreateInput) (*domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.create(ctx, input, true)
}

// Register creates an account without an actor check. It backs the operator CLI
// and seeding, where the operator picks the password.
func (s Service) Register(ctx context.Context, input CreateInput) (*domain.User, error) {
	return s.create(ctx, input, false)
}

func (s Service) create(ctx context.Context, input CreateInput, firstLogin bool) (*domain.User, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email %q", ErrInvalidInput, input.Email)
	}
	role, err := domain.ParseRole(input.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Department:   strings.TrimSpace(input.Department),
		FirstLogin:   firstLogin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("user created", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Get returns a user by id. Admin only.
func (s Service) Get(ctx context.Context, actor domain.User, id string) (*domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.repo.GetUserByID(ctx, id)
}

// ListByRole returns every account holding role. Admin only.
func (s Service) ListByRole(ctx context.Context, actor domain.User, role string) ([]domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.repo.ListUsersByRole(ctx, parsed)
}

// AvailableStudents returns the students not assigned to any team, ordered by
// name. Faculty and admins use it to staff new teams.
func (s Service) AvailableStudents(ctx context.Context, actor domain.User) ([]domain.User, error) {
	if !actor.Role.OneOf(domain.RoleFaculty, domain.RoleAdmin) {
		return nil, ErrForbidden
	}
	students, err := s.repo.ListUsersByRole(ctx, domain.RoleStudent)
	if err != nil {
		return nil, err
	}
	available := make([]domain.User, 0, len(students))
	for _, u := range students {
		if !u.HasTeam() {
			available = append(available, u)
		}
	}
	return available, nil
}

// ResetPassword replaces a user's password and marks the account for a password
// change on next login. An empty password generates a random one. The password
// set is returned. Admin only.
func (s Service) ResetPassword(ctx context.Context, actor domain.User, id, password string) (string, error) {
	if actor.Role != domain.RoleAdmin {
		return "", ErrForbidden
	}
	if _, err := s.repo.GetUserByID(ctx, id); err != nil {
		return "", err
	}
	if password == "" {
		password = rand.Text()
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return "", err
	}
	if err := s.repo.UpdatePassword(ctx, id, hash, true); err != nil {
		return "", fmt.Errorf("reset password: %w", err)
	}
	s.logger.Info("password reset", "user_id", id, "actor_id", actor.ID)
	return password, nil
}

// Delete removes an account. Admin only; admins cannot delete themselves.
func (s Service) Delete(ctx context.Context, actor domain.User, id string) error {
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	if id == actor.ID {
		return fmt.Errorf("%w: cannot delete your own account", ErrInvalidInput)
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrUserInUse
		}
		return err
	}
	s.logger.Info("user deleted", "user_id", id, "actor_id", actor.ID)
	return nil
}
