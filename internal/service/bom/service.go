package bom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
)

// Enqueuer accepts notifications for asynchronous delivery. Implementations must
// not block and must not report delivery failures back to the caller.
type Enqueuer interface {
	Enqueue(n domain.Notification)
}

// Service runs the BOM approval workflow.
type Service struct {
	boms     repository.BOMRepository
	teams    repository.TeamRepository
	users    repository.UserRepository
	notifier Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Service.
func New(boms repository.BOMRepository, teams repository.TeamRepository, users repository.UserRepository, notifier Enqueuer, logger *slog.Logger) Service {
	return Service{
		boms:     boms,
		teams:    teams,
		users:    users,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Decision carries a reviewer's comments and optional material corrections.
type Decision struct {
	Comments  string
	Materials []domain.Material
}

// Create submits a new BOM on behalf of the student's team.
func (s Service) Create(ctx context.Context, actor domain.User, materials []domain.Material) (*domain.BOM, error) {
	if actor.Role != domain.RoleStudent {
		return nil, ErrForbidden
	}
	team, err := s.teams.GetTeamByMember(ctx, actor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoTeamAssigned
	}
	if err != nil {
		return nil, fmt.Errorf("resolve team: %w", err)
	}
	normalized, err := normalizeMaterials(materials)
	if err != nil {
		return nil, err
	}
	now := s.now()
	bom := &domain.BOM{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		CreatedBy: actor.ID,
		Materials: normalized,
		Status:    domain.BOMStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.boms.CreateBOM(ctx, bom); err != nil {
		return nil, err
	}
	s.logger.Info("bom created", "bom_id", bom.ID, "team_id", team.ID, "created_by", actor.ID)

	guide, err := s.users.GetUserByID(ctx, team.GuideID)
	if err != nil {
		s.logger.Warn("guide lookup failed, skipping notification", "bom_id", bom.ID, "guide_id", team.GuideID, "error", err)
		return bom, nil
	}
	s.notify(domain.NotifyBOMCreated, []domain.User{*guide}, actor, bom, team, "")
	return bom, nil
}

// GuideApprove moves a pending BOM to guide-approved. Only the team's guide may call it.
func (s Service) GuideApprove(ctx context.Context, actor domain.User, bomID string, decision Decision) (*domain.BOM, error) {
	override, err := overrideMaterials(decision.Materials)
	if err != nil {
		return nil, err
	}
	bom, team, err := s.transition(ctx, actor, bomID, domain.BOMStatusGuideApproved, s.authorizeGuide, func(b *domain.BOM, now time.Time) {
		if override != nil {
			b.Materials = override
		}
		b.GuideApprovedBy = &actor.ID
		b.GuideApprovedAt = &now
		b.GuideComments = decision.Comments
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bom approved by guide", "bom_id", bom.ID, "guide_id", actor.ID)

	s.notifyCreator(ctx, domain.NotifyBOMGuideApproved, actor, bom, team, decision.Comments)
	reviewers, err := s.users.ListUsersByRole(ctx, domain.RoleLabIncharge)
	if err != nil {
		s.logger.Warn("lab incharge lookup failed, skipping notification", "bom_id", bom.ID, "error", err)
		return bom, nil
	}
	if len(reviewers) == 0 {
		s.logger.Warn("no lab incharge accounts to notify", "bom_id", bom.ID)
	}
	s.notify(domain.NotifyBOMAwaitingReview, reviewers, actor, bom, team, decision.Comments)
	return bom, nil
}

// GuideReject moves a pending BOM to guide-rejected. Only the team's guide may call it.
func (s Service) GuideReject(ctx context.Context, actor domain.User, bomID, comments string) (*domain.BOM, error) {
	bom, team, err := s.transition(ctx, actor, bomID, domain.BOMStatusGuideRejected, s.authorizeGuide, func(b *domain.BOM, now time.Time) {
		b.GuideApprovedBy = &actor.ID
		b.GuideApprovedAt = &now
		b.GuideComments = comments
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bom rejected by guide", "bom_id", bom.ID, "guide_id", actor.ID)
	s.notifyCreator(ctx, domain.NotifyBOMGuideRejected, actor, bom, team, comments)
	return bom, nil
}

// LabInchargeApprove moves a guide-approved BOM to labincharge-approved.
func (s Service) LabInchargeApprove(ctx context.Context, actor domain.User, bomID string, decision Decision) (*domain.BOM, error) {
	override, err := overrideMaterials(decision.Materials)
	if err != nil {
		return nil, err
	}
	bom, team, err := s.transition(ctx, actor, bomID, domain.BOMStatusLabInchargeApproved, authorizeLab, func(b *domain.BOM, now time.Time) {
		if override != nil {
			b.Materials = override
		}
		b.LabInchargeApprovedBy = &actor.ID
		b.LabInchargeApprovedAt = &now
		b.LabInchargeComments = decision.Comments
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bom approved by lab incharge", "bom_id", bom.ID, "actor_id", actor.ID)
	s.notifyCreator(ctx, domain.NotifyBOMLabInchargeApproved, actor, bom, team, decision.Comments)
	return bom, nil
}

// LabInchargeReject terminates a BOM at any stage before completion.
func (s Service) LabInchargeReject(ctx context.Context, actor domain.User, bomID, comments string) (*domain.BOM, error) {
	bom, team, err := s.transition(ctx, actor, bomID, domain.BOMStatusLabInchargeRejected, authorizeLab, func(b *domain.BOM, now time.Time) {
		b.LabInchargeApprovedBy = &actor.ID
		b.LabInchargeApprovedAt = &now
		b.LabInchargeComments = comments
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bom rejected by lab incharge", "bom_id", bom.ID, "actor_id", actor.ID)
	s.notifyCreator(ctx, domain.NotifyBOMLabInchargeRejected, actor, bom, team, comments)
	return bom, nil
}

// Complete marks a lab-approved BOM as issued.
func (s Service) Complete(ctx context.Context, actor domain.User, bomID string) (*domain.BOM, error) {
	bom, _, err := s.transition(ctx, actor, bomID, domain.BOMStatusCompleted, authorizeLab, func(b *domain.BOM, now time.Time) {
		b.IssuedAt = &now
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bom completed", "bom_id", bom.ID, "actor_id", actor.ID)
	return bom, nil
}

// GuideOf returns the current guide of a team. The team is read on every call so
// a reassigned guide takes over pending approvals immediately.
func (s Service) GuideOf(ctx context.Context, teamID string) (string, error) {
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return "", fmt.Errorf("resolve team %s: %w", teamID, err)
	}
	return team.GuideID, nil
}

type authorizer func(ctx context.Context, actor domain.User, bom *domain.BOM) (*domain.Team, error)

func (s Service) authorizeGuide(ctx context.Context, actor domain.User, bom *domain.BOM) (*domain.Team, error) {
	if actor.Role != domain.RoleFaculty {
		return nil, ErrForbidden
	}
	team, err := s.teams.GetTeamByID(ctx, bom.TeamID)
	if err != nil {
		return nil, fmt.Errorf("resolve team %s: %w", bom.TeamID, err)
	}
	if team.GuideID != actor.ID {
		return nil, ErrForbidden
	}
	return team, nil
}

func authorizeLab(_ context.Context, actor domain.User, _ *domain.BOM) (*domain.Team, error) {
	if !actor.Role.OneOf(domain.RoleLabIncharge, domain.RoleAdmin) {
		return nil, ErrForbidden
	}
	return nil, nil
}

// transition loads the BOM, authorizes the actor, checks the edge against
// domain.Transitions and writes the mutated copy guarded by the loaded version.
// A version conflict triggers one reload so the loser reports the state it lost to.
func (s Service) transition(ctx context.Context, actor domain.User, bomID string, to domain.BOMStatus, authorize authorizer, mutate func(*domain.BOM, time.Time)) (*domain.BOM, *domain.Team, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.boms.GetBOMByID(ctx, bomID)
		if err != nil {
			return nil, nil, err
		}
		team, err := authorize(ctx, actor, current)
		if err != nil {
			return nil, nil, err
		}
		if !domain.CanTransition(current.Status, to) {
			return nil, nil, &TransitionError{From: current.Status, To: to}
		}
		next := current.Clone()
		next.Status = to
		mutate(&next, s.now())
		err = s.boms.UpdateBOM(ctx, &next, current.Version)
		if errors.Is(err, repository.ErrConflict) && attempt == 0 {
			s.logger.Debug("bom version moved, reloading", "bom_id", bomID, "version", current.Version)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if team == nil {
			team, err = s.teams.GetTeamByID(ctx, next.TeamID)
			if err != nil {
				s.logger.Warn("team lookup failed after transition", "bom_id", bomID, "team_id", next.TeamID, "error", err)
				team = &domain.Team{ID: next.TeamID}
			}
		}
		return &next, team, nil
	}
}

func (s Service) notifyCreator(ctx context.Context, kind domain.NotificationKind, actor domain.User, bom *domain.BOM, team *domain.Team, comments string) {
	creator, err := s.users.GetUserByID(ctx, bom.CreatedBy)
	if err != nil {
		s.logger.Warn("creator lookup failed, skipping notification", "bom_id", bom.ID, "user_id", bom.CreatedBy, "error", err)
		return
	}
	s.notify(kind, []domain.User{*creator}, actor, bom, team, comments)
}

func (s Service) notify(kind domain.NotificationKind, recipients []domain.User, actor domain.User, bom *domain.BOM, team *domain.Team, comments string) {
	if s.notifier == nil {
		return
	}
	for _, recipient := range recipients {
		s.notifier.Enqueue(domain.Notification{
			ID:        uuid.NewString(),
			Kind:      kind,
			Recipient: recipient.Identity(),
			Actor:     actor.Identity(),
			BOMID:     bom.ID,
			TeamName:  team.Name,
			Project:   team.ProjectTitle,
			Materials: append([]domain.Material(nil), bom.Materials...),
			Comments:  comments,
			CreatedAt: s.now(),
		})
	}
}
