package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
)

// Members live on users.team_id; the array keeps a team read to a single round trip.
const teamSelect = `SELECT t.id, t.name, t.project_title, t.project_description, t.guide_id, t.status, t.created_at, t.updated_at,
		ARRAY(SELECT u.id FROM users u WHERE u.team_id = t.id ORDER BY u.name, u.id)
	FROM teams t`

// CreateTeam stores the team and assigns its members in one transaction.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO teams (id, name, project_title, project_description, guide_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, insert,
		team.ID,
		team.Name,
		team.ProjectTitle,
		team.ProjectDescription,
		team.GuideID,
		string(team.Status),
		team.CreatedAt,
		team.UpdatedAt,
	); err != nil {
		return mapError(err)
	}
	if err := assignMembers(ctx, tx, team.ID, team.MemberIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateTeam rewrites the team and reconciles member assignments in one transaction.
func (r *Repository) UpdateTeam(ctx context.Context, team *domain.Team) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const update = `UPDATE teams
		SET name = $2, project_title = $3, project_description = $4, guide_id = $5, status = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	if err := tx.QueryRow(ctx, update,
		team.ID,
		team.Name,
		team.ProjectTitle,
		team.ProjectDescription,
		team.GuideID,
		string(team.Status),
	).Scan(&team.UpdatedAt); err != nil {
		return mapError(err)
	}
	members := team.MemberIDs
	if members == nil {
		members = []string{}
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET team_id = NULL WHERE team_id = $1 AND NOT (id = ANY($2))`, team.ID, members); err != nil {
		return mapError(err)
	}
	if err := assignMembers(ctx, tx, team.ID, members); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func assignMembers(ctx context.Context, tx pgx.Tx, teamID string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return nil
	}
	tag, err := tx.Exec(ctx, `UPDATE users SET team_id = $1 WHERE id = ANY($2)`, teamID, memberIDs)
	if err != nil {
		return mapError(err)
	}
	if int(tag.RowsAffected()) != len(memberIDs) {
		return fmt.Errorf("assign members: %w", repository.ErrNotFound)
	}
	return nil
}

// DeleteTeam removes a team. Members are released by the users.team_id foreign key.
func (r *Repository) DeleteTeam(ctx context.Context, teamID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetTeamByID returns a team by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	return scanTeam(r.pool.QueryRow(ctx, teamSelect+` WHERE t.id = $1`, teamID))
}

// GetTeamByName returns a team by name, ignoring case.
func (r *Repository) GetTeamByName(ctx context.Context, name string) (*domain.Team, error) {
	return scanTeam(r.pool.QueryRow(ctx, teamSelect+` WHERE LOWER(t.name) = LOWER(TRIM($1))`, name))
}

// GetTeamByMember returns the team userID belongs to.
func (r *Repository) GetTeamByMember(ctx context.Context, userID string) (*domain.Team, error) {
	return scanTeam(r.pool.QueryRow(ctx, teamSelect+` WHERE t.id = (SELECT team_id FROM users WHERE id = $1)`, userID))
}

// ListTeams returns every team ordered by name.
func (r *Repository) ListTeams(ctx context.Context) ([]domain.Team, error) {
	rows, err := r.pool.Query(ctx, teamSelect+` ORDER BY t.name`)
	if err != nil {
		return nil, mapError(err)
	}
	return collectTeams(rows)
}

// ListTeamsByGuide returns the teams guided by guideID.
func (r *Repository) ListTeamsByGuide(ctx context.Context, guideID string) ([]domain.Team, error) {
	rows, err := r.pool.Query(ctx, teamSelect+` WHERE t.guide_id = $1 ORDER BY t.name`, guideID)
	if err != nil {
		return nil, mapError(err)
	}
	return collectTeams(rows)
}

func scanTeam(row pgx.Row) (*domain.Team, error) {
	var (
		team   domain.Team
		status string
	)
	if err := row.Scan(
		&team.ID,
		&team.Name,
		&team.ProjectTitle,
		&team.ProjectDescription,
		&team.GuideID,
		&status,
		&team.CreatedAt,
		&team.UpdatedAt,
		&team.MemberIDs,
	); err != nil {
		return nil, mapError(err)
	}
	team.Status = domain.TeamStatus(status)
	return &team, nil
}

func collectTeams(rows pgx.Rows) ([]domain.Team, error) {
	defer rows.Close()
	teams := make([]domain.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *team)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return teams, nil
}
