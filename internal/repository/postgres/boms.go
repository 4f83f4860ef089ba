package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
)

const bomColumns = `id, team_id, created_by, materials, status,
	guide_approved_by, guide_approved_at, guide_comments,
	labincharge_approved_by, labincharge_approved_at, labincharge_comments,
	issued_at, created_at, updated_at, version`

// CreateBOM inserts a new BOM at version 1.
func (r *Repository) CreateBOM(ctx context.Context, bom *domain.BOM) error {
	materials, err := json.Marshal(bom.Materials)
	if err != nil {
		return fmt.Errorf("encode materials: %w", err)
	}
	const query = `INSERT INTO boms (id, team_id, created_by, materials, status, created_at, updated_at, version)
		SELECT $1, t.id, $3, $4, $5, $6, $7, 1 FROM teams t WHERE t.id = $2`
	tag, err := r.pool.Exec(ctx, query,
		bom.ID,
		bom.TeamID,
		bom.CreatedBy,
		materials,
		string(bom.Status),
		bom.CreatedAt,
		bom.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("team %s: %w", bom.TeamID, repository.ErrNotFound)
	}
	bom.Version = 1
	return nil
}

// GetBOMByID fetches a BOM by identifier.
func (r *Repository) GetBOMByID(ctx context.Context, id string) (*domain.BOM, error) {
	return scanBOM(r.pool.QueryRow(ctx, `SELECT `+bomColumns+` FROM boms WHERE id = $1`, id))
}

// UpdateBOM writes bom when the stored version still equals expectedVersion.
func (r *Repository) UpdateBOM(ctx context.Context, bom *domain.BOM, expectedVersion int) error {
	materials, err := json.Marshal(bom.Materials)
	if err != nil {
		return fmt.Errorf("encode materials: %w", err)
	}
	const query = `UPDATE boms SET
			materials = $3,
			status = $4,
			guide_approved_by = $5,
			guide_approved_at = $6,
			guide_comments = $7,
			labincharge_approved_by = $8,
			labincharge_approved_at = $9,
			labincharge_comments = $10,
			issued_at = $11,
			updated_at = NOW(),
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`
	err = r.pool.QueryRow(ctx, query,
		bom.ID,
		expectedVersion,
		materials,
		string(bom.Status),
		stringPtrToNil(bom.GuideApprovedBy),
		timePtrToNil(bom.GuideApprovedAt),
		bom.GuideComments,
		stringPtrToNil(bom.LabInchargeApprovedBy),
		timePtrToNil(bom.LabInchargeApprovedAt),
		bom.LabInchargeComments,
		timePtrToNil(bom.IssuedAt),
	).Scan(&bom.Version, &bom.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return mapError(err)
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM boms WHERE id = $1)`, bom.ID).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// ListBOMs returns BOMs matching filter, newest first.
func (r *Repository) ListBOMs(ctx context.Context, filter domain.BOMFilter) ([]domain.BOM, error) {
	query, args, ok := listBOMsQuery(filter)
	if !ok {
		return []domain.BOM{}, nil
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	boms := make([]domain.BOM, 0)
	for rows.Next() {
		bom, err := scanBOM(rows)
		if err != nil {
			return nil, err
		}
		boms = append(boms, *bom)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return boms, nil
}

// listBOMsQuery builds the listing statement. ok is false when the filter can
// match nothing and no query needs to run.
func listBOMsQuery(filter domain.BOMFilter) (string, []any, bool) {
	var (
		conditions []string
		args       []any
	)
	if !filter.All {
		if len(filter.TeamIDs) == 0 {
			return "", nil, false
		}
		args = append(args, filter.TeamIDs)
		conditions = append(conditions, "team_id = ANY($"+strconv.Itoa(len(args))+")")
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + bomColumns + ` FROM boms`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	return query, args, true
}

func scanBOM(row pgx.Row) (*domain.BOM, error) {
	var (
		bom        domain.BOM
		materials  []byte
		status     string
		guideBy    *string
		guideAt    *time.Time
		labBy      *string
		labAt      *time.Time
		issuedAt   *time.Time
		guideNotes string
		labNotes   string
	)
	if err := row.Scan(
		&bom.ID,
		&bom.TeamID,
		&bom.CreatedBy,
		&materials,
		&status,
		&guideBy,
		&guideAt,
		&guideNotes,
		&labBy,
		&labAt,
		&labNotes,
		&issuedAt,
		&bom.CreatedAt,
		&bom.UpdatedAt,
		&bom.Version,
	); err != nil {
		return nil, mapError(err)
	}
	if err := json.Unmarshal(materials, &bom.Materials); err != nil {
		return nil, fmt.Errorf("decode materials for bom %s: %w", bom.ID, err)
	}
	bom.Status = domain.BOMStatus(status)
	bom.GuideApprovedBy = guideBy
	bom.GuideApprovedAt = guideAt
	bom.GuideComments = guideNotes
	bom.LabInchargeApprovedBy = labBy
	bom.LabInchargeApprovedAt = labAt
	bom.LabInchargeComments = labNotes
	bom.IssuedAt = issuedAt
	return &bom, nil
}
