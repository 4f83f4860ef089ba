package repository

import (
	"context"

	"github.com/ceer-lab/ceer/internal/domain"
)

// UserRepository persists accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	ListUsersByIDs(ctx context.Context, ids []string) ([]domain.User, error)
	// UpdatePassword replaces the password hash and sets the first-login flag.
	UpdatePassword(ctx context.Context, userID string, hash []byte, firstLogin bool) error
	// DeleteUser removes an account. It returns ErrConflict while the user still
	// guides a team or is referenced by a BOM.
	DeleteUser(ctx context.Context, userID string) error
}

// TeamRepository manages teams and the member back-references on users.
type TeamRepository interface {
	// CreateTeam stores the team and points every member's team id at it in one unit of work.
	CreateTeam(ctx context.Context, team *domain.Team) error
	// UpdateTeam rewrites the team and reconciles member back-references in one unit of work.
	UpdateTeam(ctx context.Context, team *domain.Team) error
	// DeleteTeam removes the team and clears its members' team id.
	DeleteTeam(ctx context.Context, teamID string) error
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	GetTeamByName(ctx context.Context, name string) (*domain.Team, error)
	GetTeamByMember(ctx context.Context, userID string) (*domain.Team, error)
	ListTeams(ctx context.Context) ([]domain.Team, error)
	ListTeamsByGuide(ctx context.Context, guideID string) ([]domain.Team, error)
}

// BOMRepository persists bills of materials.
type BOMRepository interface {
	CreateBOM(ctx context.Context, bom *domain.BOM) error
	GetBOMByID(ctx context.Context, id string) (*domain.BOM, error)
	// UpdateBOM writes bom only when the stored version equals expectedVersion,
	// returning ErrConflict otherwise. On success bom.Version is advanced.
	UpdateBOM(ctx context.Context, bom *domain.BOM, expectedVersion int) error
	ListBOMs(ctx context.Context, filter domain.BOMFilter) ([]domain.BOM, error)
}
