package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement-approvals/internal/database"
	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
)

// ThresholdBandRepository handles CRUD for threshold_bands.
// Bands are soft-disabled through is_active and never deleted.
type ThresholdBandRepository struct {
	db *database.DB
}

// NewThresholdBandRepository creates a new ThresholdBandRepository.
func NewThresholdBandRepository(db *database.DB) *ThresholdBandRepository {
	return &ThresholdBandRepository{db: db}
}

const bandColumns = `
	id, project_id, approval_level, threshold_min, threshold_max,
	approver_role, is_active, created_at, updated_at
`

// Create inserts a new band.
func (r *ThresholdBandRepository) Create(ctx context.Context, band *ThresholdBand) error {
	if band.ID == "" {
		band.ID = uuid.NewString()
	}

	query := `
		INSERT INTO threshold_bands
		    (id, project_id, approval_level, threshold_min, threshold_max,
		     approver_role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		band.ID,
		band.ProjectID,
		band.ApprovalLevel,
		band.ThresholdMin,
		band.ThresholdMax,
		band.ApproverRole,
		band.IsActive,
	).Scan(&band.CreatedAt, &band.UpdatedAt)
	if database.IsUniqueViolation(err, "threshold_bands_level_role_key") {
		return errors.Conflict("a band for this project, level and role already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create threshold band")
	}
	return nil
}

// GetByID retrieves a band by primary key.
func (r *ThresholdBandRepository) GetByID(ctx context.Context, id string) (*ThresholdBand, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("threshold_band", id)
	}
	query := `SELECT ` + bandColumns + ` FROM threshold_bands WHERE id = $1`

	band, err := scanBand(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("threshold_band", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get threshold band")
	}
	return band, nil
}

// List returns all bands for a project, optionally filtered to active only,
// ordered by approval level.
func (r *ThresholdBandRepository) List(ctx context.Context, projectID string, activeOnly bool) ([]ThresholdBand, error) {
	query := `SELECT ` + bandColumns + ` FROM threshold_bands WHERE project_id = $1`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY approval_level ASC, approver_role ASC"

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list threshold bands")
	}
	defer rows.Close()

	bands := []ThresholdBand{}
	for rows.Next() {
		band, err := scanBand(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan threshold band")
		}
		bands = append(bands, *band)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list threshold bands")
	}
	return bands, nil
}

// Lookup returns the active bands of a project sorted by approval level.
// An empty result means no approval is configured for the project.
func (r *ThresholdBandRepository) Lookup(ctx context.Context, projectID string) ([]ThresholdBand, error) {
	return r.List(ctx, projectID, true)
}

// SetActive enables or soft-disables a band.
func (r *ThresholdBandRepository) SetActive(ctx context.Context, id string, active bool) (*ThresholdBand, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("threshold_band", id)
	}
	query := `
		UPDATE threshold_bands
		SET is_active  = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + bandColumns

	band, err := scanBand(r.db.QueryRow(ctx, query, id, active))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("threshold_band", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update threshold band")
	}
	return band, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

// isUUID reports whether id can address a UUID primary key. Anything else
// cannot match a row, and sending it to Postgres fails with 22P02.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanBand(row rowScanner) (*ThresholdBand, error) {
	b := &ThresholdBand{}
	err := row.Scan(
		&b.ID,
		&b.ProjectID,
		&b.ApprovalLevel,
		&b.ThresholdMin,
		&b.ThresholdMax,
		&b.ApproverRole,
		&b.IsActive,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}
