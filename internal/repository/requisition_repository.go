package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement-approvals/internal/database"
	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
)

// RequisitionRepository stores requisitions and builds their approval view.
type RequisitionRepository struct {
	db        *database.DB
	decisions *ApprovalDecisionRepository
}

// NewRequisitionRepository creates a new RequisitionRepository.
func NewRequisitionRepository(db *database.DB, decisions *ApprovalDecisionRepository) *RequisitionRepository {
	return &RequisitionRepository{db: db, decisions: decisions}
}

const requisitionColumns = `
	id, project_id, requisition_number, total_value, currency,
	status, version, created_by, created_at, updated_at
`

// Create inserts a new requisition.
func (r *RequisitionRepository) Create(ctx context.Context, req *Requisition) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Version == 0 {
		req.Version = 1
	}

	query := `
		INSERT INTO requisitions
		    (id, project_id, requisition_number, total_value, currency,
		     status, version, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.ID,
		req.ProjectID,
		req.RequisitionNumber,
		req.TotalValue,
		req.Currency,
		req.Status,
		req.Version,
		req.CreatedBy,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create requisition")
	}
	return nil
}

// GetByID retrieves a requisition.
func (r *RequisitionRepository) GetByID(ctx context.Context, id string) (*Requisition, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("requisition", id)
	}
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1`

	req, err := scanRequisition(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("requisition", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition")
	}
	return req, nil
}

// GetApprovalView returns the requisition's value, currency and ordered ledger.
func (r *RequisitionRepository) GetApprovalView(ctx context.Context, id string) (*RequisitionApprovalView, error) {
	req, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	decisions, err := r.decisions.ListByRequisition(ctx, id)
	if err != nil {
		return nil, err
	}

	return &RequisitionApprovalView{
		RequisitionID: req.ID,
		ProjectID:     req.ProjectID,
		TotalValue:    req.TotalValue,
		Currency:      req.Currency,
		Decisions:     decisions,
	}, nil
}

// UpdateStatus moves a requisition from one status to another, guarded by
// the expected version. A stale version or status yields a conflict.
func (r *RequisitionRepository) UpdateStatus(
	ctx context.Context,
	id string,
	from RequisitionStatus,
	expectedVersion int,
	to RequisitionStatus,
) (*Requisition, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("requisition", id)
	}
	query := `
		UPDATE requisitions
		SET status     = $4,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2 AND version = $3
		RETURNING ` + requisitionColumns

	req, err := scanRequisition(r.db.QueryRow(ctx, query, id, from, expectedVersion, to))
	if err == pgx.ErrNoRows {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, errors.Conflict("requisition was modified concurrently").
			WithDetail("requisition_id", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update requisition status")
	}
	return req, nil
}

func scanRequisition(row rowScanner) (*Requisition, error) {
	req := &Requisition{}
	err := row.Scan(
		&req.ID,
		&req.ProjectID,
		&req.RequisitionNumber,
		&req.TotalValue,
		&req.Currency,
		&req.Status,
		&req.Version,
		&req.CreatedBy,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
