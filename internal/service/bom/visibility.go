package bom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
)

// TeamRef is the team summary embedded in a View.
type TeamRef struct {
	ID           string          `json:"id"`
	Name         string          `json:"team_name"`
	ProjectTitle string          `json:"project_title"`
	Guide        domain.Identity `json:"guide"`
}

// View is a BOM with its referenced identities resolved for display.
type View struct {
	ID                    string            `json:"id"`
	Team                  TeamRef           `json:"team"`
	CreatedBy             domain.Identity   `json:"created_by"`
	Materials             []domain.Material `json:"materials"`
	Status                domain.BOMStatus  `json:"status"`
	GuideApprovedBy       *domain.Identity  `json:"guide_approved_by,omitempty"`
	GuideApprovedAt       *time.Time        `json:"guide_approved_at,omitempty"`
	GuideComments         string            `json:"guide_comments,omitempty"`
	LabInchargeApprovedBy *domain.Identity  `json:"labincharge_approved_by,omitempty"`
	LabInchargeApprovedAt *time.Time        `json:"labincharge_approved_at,omitempty"`
	LabInchargeComments   string            `json:"labincharge_comments,omitempty"`
	IssuedAt              *time.Time        `json:"issued_at,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	Version               int               `json:"version"`
}

// List returns the BOMs visible to actor, newest first:
// students see their team's, faculty the teams they guide, lab incharges the
// guide-approved queue and admins everything.
func (s Service) List(ctx context.Context, actor domain.User) ([]View, error) {
	filter, ok, err := s.visibleFilter(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []View{}, nil
	}
	boms, err := s.boms.ListBOMs(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.Describe(ctx, boms)
}

func (s Service) visibleFilter(ctx context.Context, actor domain.User) (domain.BOMFilter, bool, error) {
	switch actor.Role {
	case domain.RoleStudent:
		team, err := s.teams.GetTeamByMember(ctx, actor.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.BOMFilter{}, false, nil
		}
		if err != nil {
			return domain.BOMFilter{}, false, fmt.Errorf("resolve team: %w", err)
		}
		return domain.BOMFilter{TeamIDs: []string{team.ID}}, true, nil
	case domain.RoleFaculty:
		teams, err := s.teams.ListTeamsByGuide(ctx, actor.ID)
		if err != nil {
			return domain.BOMFilter{}, false, fmt.Errorf("resolve guided teams: %w", err)
		}
		if len(teams) == 0 {
			return domain.BOMFilter{}, false, nil
		}
		ids := make([]string, 0, len(teams))
		for _, team := range teams {
			ids = append(ids, team.ID)
		}
		return domain.BOMFilter{TeamIDs: ids}, true, nil
	case domain.RoleLabIncharge:
		return domain.BOMFilter{All: true, Status: domain.BOMStatusGuideApproved}, true, nil
	case domain.RoleAdmin:
		return domain.BOMFilter{All: true}, true, nil
	default:
		return domain.BOMFilter{}, false, ErrForbidden
	}
}

// Get returns a single BOM if actor may see it. Lab incharges may additionally read
// any BOM past the guide stage or one they decided on.
func (s Service) Get(ctx context.Context, actor domain.User, bomID string) (*View, error) {
	bom, err := s.boms.GetBOMByID(ctx, bomID)
	if err != nil {
		return nil, err
	}
	visible, err := s.canView(ctx, actor, bom)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrForbidden
	}
	views, err := s.Describe(ctx, []domain.BOM{*bom})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s Service) canView(ctx context.Context, actor domain.User, bom *domain.BOM) (bool, error) {
	switch actor.Role {
	case domain.RoleAdmin:
		return true, nil
	case domain.RoleStudent:
		team, err := s.teams.GetTeamByMember(ctx, actor.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return team.ID == bom.TeamID, nil
	case domain.RoleFaculty:
		guideID, err := s.GuideOf(ctx, bom.TeamID)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return guideID == actor.ID, nil
	case domain.RoleLabIncharge:
		if bom.LabInchargeApprovedBy != nil && *bom.LabInchargeApprovedBy == actor.ID {
			return true, nil
		}
		switch bom.Status {
		case domain.BOMStatusPending, domain.BOMStatusGuideRejected:
			return false, nil
		default:
			return true, nil
		}
	default:
		return false, nil
	}
}

// Describe resolves team, creator and approver identities for boms. Users or teams
// that no longer exist resolve to an identity carrying only the id.
func (s Service) Describe(ctx context.Context, boms []domain.BOM) ([]View, error) {
	teams := make(map[string]domain.Team)
	userIDs := make([]string, 0, len(boms)*2)
	seen := make(map[string]struct{})
	addUser := func(id *string) {
		if id == nil || *id == "" {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		userIDs = append(userIDs, *id)
	}
	for i := range boms {
		b := &boms[i]
		if _, ok := teams[b.TeamID]; !ok {
			team, err := s.teams.GetTeamByID(ctx, b.TeamID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				teams[b.TeamID] = domain.Team{ID: b.TeamID}
			case err != nil:
				return nil, fmt.Errorf("resolve team %s: %w", b.TeamID, err)
			default:
				teams[b.TeamID] = *team
				addUser(&team.GuideID)
			}
		}
		addUser(&b.CreatedBy)
		addUser(b.GuideApprovedBy)
		addUser(b.LabInchargeApprovedBy)
	}

	identities := make(map[string]domain.Identity, len(userIDs))
	if len(userIDs) > 0 {
		users, err := s.users.ListUsersByIDs(ctx, userIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve users: %w", err)
		}
		for _, u := range users {
			identities[u.ID] = u.Identity()
		}
	}
	identity := func(id string) domain.Identity {
		if ident, ok := identities[id]; ok {
			return ident
		}
		return domain.Identity{ID: id}
	}
	optional := func(id *string) *domain.Identity {
		if id == nil {
			return nil
		}
		ident := identity(*id)
		return &ident
	}

	views := make([]View, 0, len(boms))
	for _, b := range boms {
		team := teams[b.TeamID]
		ref := TeamRef{ID: team.ID, Name: team.Name, ProjectTitle: team.ProjectTitle}
		if team.GuideID != "" {
			ref.Guide = identity(team.GuideID)
		}
		views = append(views, View{
			ID:                    b.ID,
			Team:                  ref,
			CreatedBy:             identity(b.CreatedBy),
			Materials:             b.Materials,
			Status:                b.Status,
			GuideApprovedBy:       optional(b.GuideApprovedBy),
			GuideApprovedAt:       b.GuideApprovedAt,
			GuideComments:         b.GuideComments,
			LabInchargeApprovedBy: optional(b.LabInchargeApprovedBy),
			LabInchargeApprovedAt: b.LabInchargeApprovedAt,
			LabInchargeComments:   b.LabInchargeComments,
			IssuedAt:              b.IssuedAt,
			CreatedAt:             b.CreatedAt,
			UpdatedAt:             b.UpdatedAt,
			Version:               b.Version,
		})
	}
	return views, nil
}
