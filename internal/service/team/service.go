package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid team input")
	ErrNameTaken      = errors.New("team name already exists")
	ErrInvalidGuide   = errors.New("guide must be a faculty member")
	ErrInvalidMember  = errors.New("team members must be students")
	ErrMemberAssigned = errors.New("student already belongs to another team")
	ErrNoTeamAssigned = errors.New("no team assigned")
)

// Service handles team registry workflows.
type Service struct {
	teams  repository.TeamRepository
	users  repository.UserRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(teams repository.TeamRepository, users repository.UserRepository, logger *slog.Logger) Service {
	return Service{teams: teams, users: users, logger: logger}
}

// Detail is a team with its guide and members resolved.
type Detail struct {
	ID                 string            `json:"id"`
	Name               string            `json:"team_name"`
	ProjectTitle       string            `json:"project_title"`
	ProjectDescription string            `json:"project_description,omitempty"`
	Members            []domain.Identity `json:"members"`
	Guide              domain.Identity   `json:"guide"`
	Status             domain.TeamStatus `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// CreateInput describes a new team.
type CreateInput struct {
	Name               string
	ProjectTitle       string
	ProjectDescription string
	MemberIDs          []string
	GuideID            string
	Status             string
}

// TeamPatch lists the fields an update may change. Nil fields are left as they are.
type TeamPatch struct {
	Name               *string
	ProjectTitle       *string
	ProjectDescription *string
	MemberIDs          *[]string
	GuideID            *string
	Status             *string
}

// Apply returns a copy of team with the patch applied.
func (p TeamPatch) Apply(team domain.Team) (domain.Team, error) {
	out := team
	out.MemberIDs = append([]string(nil), team.MemberIDs...)
	if p.Name != nil {
		out.Name = strings.TrimSpace(*p.Name)
	}
	if p.ProjectTitle != nil {
		out.ProjectTitle = strings.TrimSpace(*p.ProjectTitle)
	}
	if p.ProjectDescription != nil {
		out.ProjectDescription = strings.TrimSpace(*p.ProjectDescription)
	}
	if p.MemberIDs != nil {
		out.MemberIDs = dedupe(*p.MemberIDs)
	}
	if p.GuideID != nil {
		out.GuideID = strings.TrimSpace(*p.GuideID)
	}
	if p.Status != nil {
		status, err := domain.ParseTeamStatus(strings.TrimSpace(*p.Status))
		if err != nil {
			return domain.Team{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		out.Status = status
	}
	if out.Name == "" || out.ProjectTitle == "" || out.GuideID == "" {
		return domain.Team{}, fmt.Errorf("%w: team name, project title and guide are required", ErrInvalidInput)
	}
	return out, nil
}

// Create registers a team. Admins and faculty may create teams.
func (s Service) Create(ctx context.Context, actor domain.User, input CreateInput) (*Detail, error) {
	if !actor.Role.OneOf(domain.RoleAdmin, domain.RoleFaculty) {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(input.Status) == "" {
		input.Status = string(domain.TeamStatusActive)
	}
	now := time.Now().UTC()
	team, err := TeamPatch{
		Name:               &input.Name,
		ProjectTitle:       &input.ProjectTitle,
		ProjectDescription: &input.ProjectDescription,
		MemberIDs:          &input.MemberIDs,
		GuideID:            &input.GuideID,
		Status:             &input.Status,
	}.Apply(domain.Team{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return nil, err
	}
	if err := s.checkName(ctx, team); err != nil {
		return nil, err
	}
	guide, err := s.checkGuide(ctx, team.GuideID)
	if err != nil {
		return nil, err
	}
	members, err := s.checkMembers(ctx, team)
	if err != nil {
		return nil, err
	}
	if err := s.teams.CreateTeam(ctx, &team); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrNameTaken
		}
		return nil, err
	}
	s.logger.Info("team created", "team_id", team.ID, "guide_id", team.GuideID, "members", len(team.MemberIDs))
	return detail(team, guide, members), nil
}

// Update applies patch to a team. Replacing members clears the old members'
// assignment; changing the guide redirects future approvals. Faculty may only
// update teams they currently guide.
func (s Service) Update(ctx context.Context, actor domain.User, teamID string, patch TeamPatch) (*Detail, error) {
	if !actor.Role.OneOf(domain.RoleAdmin, domain.RoleFaculty) {
		return nil, ErrForbidden
	}
	current, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleFaculty && current.GuideID != actor.ID {
		return nil, ErrForbidden
	}
	team, err := patch.Apply(*current)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(team.Name, current.Name) {
		if err := s.checkName(ctx, team); err != nil {
			return nil, err
		}
	}
	guide, err := s.checkGuide(ctx, team.GuideID)
	if err != nil {
		return nil, err
	}
	members, err := s.checkMembers(ctx, team)
	if err != nil {
		return nil, err
	}
	if err := s.teams.UpdateTeam(ctx, &team); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrNameTaken
		}
		return nil, err
	}
	if team.GuideID != current.GuideID {
		s.logger.Info("team guide reassigned", "team_id", team.ID, "from", current.GuideID, "to", team.GuideID)
	}
	s.logger.Info("team updated", "team_id", team.ID)
	return detail(team, guide, members), nil
}

// Delete removes a team and releases its members. Admin only.
func (s Service) Delete(ctx context.Context, actor domain.User, teamID string) error {
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	if err := s.teams.DeleteTeam(ctx, teamID); err != nil {
		return err
	}
	s.logger.Info("team deleted", "team_id", teamID)
	return nil
}

// List returns every team with members and guide resolved.
func (s Service) List(ctx context.Context) ([]Detail, error) {
	teams, err := s.teams.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, teams)
}

// Get returns one team with members and guide resolved.
func (s Service) Get(ctx context.Context, teamID string) (*Detail, error) {
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	details, err := s.describe(ctx, []domain.Team{*team})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

// MyTeam returns the team the student belongs to.
func (s Service) MyTeam(ctx context.Context, actor domain.User) (*Detail, error) {
	if actor.Role != domain.RoleStudent {
		return nil, ErrForbidden
	}
	team, err := s.teams.GetTeamByMember(ctx, actor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoTeamAssigned
	}
	if err != nil {
		return nil, err
	}
	details, err := s.describe(ctx, []domain.Team{*team})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

func (s Service) checkName(ctx context.Context, team domain.Team) error {
	existing, err := s.teams.GetTeamByName(ctx, team.Name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != team.ID:
		return ErrNameTaken
	default:
		return nil
	}
}

func (s Service) checkGuide(ctx context.Context, guideID string) (domain.User, error) {
	guide, err := s.users.GetUserByID(ctx, guideID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, ErrInvalidGuide
	}
	if err != nil {
		return domain.User{}, err
	}
	if guide.Role != domain.RoleFaculty {
		return domain.User{}, ErrInvalidGuide
	}
	return *guide, nil
}

func (s Service) checkMembers(ctx context.Context, team domain.Team) ([]domain.User, error) {
	if len(team.MemberIDs) == 0 {
		return nil, nil
	}
	users, err := s.users.ListUsersByIDs(ctx, team.MemberIDs)
	if err != nil {
		return nil, err
	}
	if len(users) != len(team.MemberIDs) {
		return nil, fmt.Errorf("%w: unknown member id", ErrInvalidMember)
	}
	for _, u := range users {
		if u.Role != domain.RoleStudent {
			return nil, fmt.Errorf("%w: %s is %s", ErrInvalidMember, u.ID, u.Role)
		}
		if u.HasTeam() && *u.TeamID != team.ID {
			return nil, fmt.Errorf("%w: %s", ErrMemberAssigned, u.ID)
		}
	}
	return users, nil
}

func (s Service) describe(ctx context.Context, teams []domain.Team) ([]Detail, error) {
	ids := make([]string, 0)
	for _, t := range teams {
		ids = append(ids, t.GuideID)
		ids = append(ids, t.MemberIDs...)
	}
	users, err := s.users.ListUsersByIDs(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]Detail, 0, len(teams))
	for _, t := range teams {
		members := make([]domain.User, 0, len(t.MemberIDs))
		for _, id := range t.MemberIDs {
			if u, ok := byID[id]; ok {
				members = append(members, u)
			}
		}
		guide, ok := byID[t.GuideID]
		if !ok {
			guide = domain.User{ID: t.GuideID}
		}
		out = append(out, *detail(t, guide, members))
	}
	return out, nil
}

func detail(team domain.Team, guide domain.User, members []domain.User) *Detail {
	identities := make([]domain.Identity, 0, len(members))
	for _, m := range members {
		identities = append(identities, m.Identity())
	}
	return &Detail{
		ID:                 team.ID,
		Name:               team.Name,
		ProjectTitle:       team.ProjectTitle,
		ProjectDescription: team.ProjectDescription,
		Members:            identities,
		Guide:              guide.Identity(),
		Status:             team.Status,
		CreatedAt:          team.CreatedAt,
		UpdatedAt:          team.UpdatedAt,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
