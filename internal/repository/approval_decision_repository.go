package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement-approvals/internal/database"
	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
)

// approvedLevelIndex enforces at most one approved decision per level.
const approvedLevelIndex = "approval_decisions_approved_level_key"

// ApprovalDecisionRepository appends and reads immutable ledger entries.
// Append and Record are the only mutation operations exposed.
type ApprovalDecisionRepository struct {
	db *database.DB
}

// NewApprovalDecisionRepository creates a new ApprovalDecisionRepository.
func NewApprovalDecisionRepository(db *database.DB) *ApprovalDecisionRepository {
	return &ApprovalDecisionRepository{db: db}
}

// Append inserts one decision and assigns its sequence. The requisition row is
// locked for the duration of the transaction so concurrent appends for the
// same requisition are serialized across service instances.
func (r *ApprovalDecisionRepository) Append(ctx context.Context, d *ApprovalDecision) error {
	if !isUUID(d.RequisitionID) {
		return errors.NotFound("requisition", d.RequisitionID)
	}
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := lockRequisition(ctx, tx, d.RequisitionID); err != nil {
			return err
		}
		return insertDecision(ctx, tx, d)
	})
}

// Record appends a decision to a requisition that is pending approval and
// applies the status chosen by resolve, all in one transaction. The
// requisition row stays locked until commit, so the status check, the append
// and the transition never interleave with another writer.
func (r *ApprovalDecisionRepository) Record(ctx context.Context, d *ApprovalDecision, resolve StatusResolver) (*RecordedDecision, error) {
	if !isUUID(d.RequisitionID) {
		return nil, errors.NotFound("requisition", d.RequisitionID)
	}

	var out *RecordedDecision
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := lockRequisition(ctx, tx, d.RequisitionID)
		if err != nil {
			return err
		}
		if req.Status != StatusPendingApproval {
			return NotPendingApproval(req)
		}

		if err := insertDecision(ctx, tx, d); err != nil {
			return err
		}
		ledger, err := listDecisions(ctx, tx, d.RequisitionID)
		if err != nil {
			return err
		}
		out = &RecordedDecision{Decision: d, Ledger: ledger, Previous: req.Status, Requisition: req}

		next := resolve(req, ledger)
		if next == req.Status {
			return nil
		}

		query := `
			UPDATE requisitions
			SET status     = $2,
			    version    = version + 1,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING ` + requisitionColumns

		updated, err := scanRequisition(tx.QueryRow(ctx, query, req.ID, next))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update requisition status")
		}
		out.Requisition = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByRequisition returns a requisition's ledger ordered by sequence.
func (r *ApprovalDecisionRepository) ListByRequisition(ctx context.Context, requisitionID string) ([]ApprovalDecision, error) {
	if !isUUID(requisitionID) {
		return []ApprovalDecision{}, nil
	}
	return listDecisions(ctx, r.db, requisitionID)
}

// NotPendingApproval is the conflict returned when a decision targets a
// requisition outside the approval gate.
func NotPendingApproval(req *Requisition) error {
	return errors.Conflict(fmt.Sprintf("requisition is not pending approval (status: %s)", req.Status)).
		WithDetail("requisition_id", req.ID)
}

// ── transaction helpers ──────────────────────────────────────────────────────

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func lockRequisition(ctx context.Context, tx pgx.Tx, id string) (*Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1 FOR UPDATE`

	req, err := scanRequisition(tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("requisition", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock requisition")
	}
	return req, nil
}

// insertDecision must run with the requisition row locked.
func insertDecision(ctx context.Context, tx pgx.Tx, d *ApprovalDecision) error {
	if d.Status == DecisionApproved {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
			    SELECT 1 FROM approval_decisions
			    WHERE requisition_id = $1 AND approval_level = $2 AND status = 'approved'
			)`, d.RequisitionID, d.ApprovalLevel,
		).Scan(&exists)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to check approved levels")
		}
		if exists {
			return duplicateApproval(d)
		}
	}

	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM approval_decisions WHERE requisition_id = $1`,
		d.RequisitionID,
	).Scan(&d.Sequence)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to allocate decision sequence")
	}

	query := `
		INSERT INTO approval_decisions
		    (id, requisition_id, sequence, approval_level, status,
		     approver_id, approver_name, comments, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, query,
		d.ID,
		d.RequisitionID,
		d.Sequence,
		d.ApprovalLevel,
		d.Status,
		d.ApproverID,
		d.ApproverName,
		d.Comments,
		d.DecidedAt,
	)
	if database.IsUniqueViolation(err, approvedLevelIndex) {
		return duplicateApproval(d)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval decision")
	}
	return nil
}

func listDecisions(ctx context.Context, q querier, requisitionID string) ([]ApprovalDecision, error) {
	query := `
		SELECT id, requisition_id, sequence, approval_level, status,
		       approver_id, approver_name, comments, decided_at
		FROM approval_decisions
		WHERE requisition_id = $1
		ORDER BY sequence ASC
	`

	rows, err := q.Query(ctx, query, requisitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval decisions")
	}
	defer rows.Close()

	decisions := []ApprovalDecision{}
	for rows.Next() {
		var d ApprovalDecision
		err := rows.Scan(
			&d.ID,
			&d.RequisitionID,
			&d.Sequence,
			&d.ApprovalLevel,
			&d.Status,
			&d.ApproverID,
			&d.ApproverName,
			&d.Comments,
			&d.DecidedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval decision")
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval decisions")
	}
	return decisions, nil
}

// duplicateApproval is the conflict returned when a level is approved twice.
func duplicateApproval(d *ApprovalDecision) error {
	return errors.Conflict(fmt.Sprintf("level %d is already approved", d.ApprovalLevel)).
		WithDetail("requisition_id", d.RequisitionID)
}
