package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/logger"
	"github.com/pesio-ai/be-procurement-approvals/internal/metrics"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
)

// AppendDecisionRequest is one approval action to record.
type AppendDecisionRequest struct {
	RequisitionID string                    `json:"requisition_id"`
	Level         int                       `json:"level"`
	Status        repository.DecisionStatus `json:"status"`
	ApproverID    string                    `json:"approver_id"`
	ApproverName  string                    `json:"approver_name"`
	Comments      string                    `json:"comments"`
}

// Validate checks the request shape without touching storage.
func (r *AppendDecisionRequest) Validate() error {
	if strings.TrimSpace(r.RequisitionID) == "" {
		return errors.InvalidInput("requisition_id", "is required")
	}
	if r.Level < 1 {
		return errors.InvalidInput("level", "must be >= 1")
	}
	if !r.Status.Valid() {
		return errors.InvalidInput("status", fmt.Sprintf("unknown status %q", r.Status))
	}
	if r.Status != repository.DecisionPending && strings.TrimSpace(r.ApproverID) == "" {
		return errors.InvalidInput("approver_id", "is required for approved and rejected decisions")
	}
	return nil
}

// ApprovalLedger is the append-only record of approval decisions and the only
// mutation point of the approval engine.
type ApprovalLedger struct {
	decisions    DecisionStore
	requisitions RequisitionStore
	locks        *keyedMutex
	metrics      *metrics.Metrics
	now          func() time.Time
	log          *logger.Logger
}

// NewApprovalLedger creates a new ApprovalLedger.
func NewApprovalLedger(
	decisions DecisionStore,
	requisitions RequisitionStore,
	m *metrics.Metrics,
	log *logger.Logger,
) *ApprovalLedger {
	return &ApprovalLedger{
		decisions:    decisions,
		requisitions: requisitions,
		locks:        newKeyedMutex(),
		metrics:      m,
		now:          time.Now,
		log:          log.WithComponent("approval_ledger"),
	}
}

// Append validates and records one decision. Appends for the same
// requisition are serialized; a second approval of an already approved level
// fails with a conflict.
func (l *ApprovalLedger) Append(ctx context.Context, req AppendDecisionRequest) (*repository.ApprovalDecision, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(req.RequisitionID)
	defer unlock()

	if req.Status == repository.DecisionApproved {
		existing, err := l.decisions.ListByRequisition(ctx, req.RequisitionID)
		if err != nil {
			return nil, err
		}
		for _, d := range existing {
			if d.Status == repository.DecisionApproved && d.ApprovalLevel == req.Level {
				l.metrics.RecordConflict()
				return nil, errors.Conflict(fmt.Sprintf("level %d is already approved", req.Level)).
					WithDetail("requisition_id", req.RequisitionID)
			}
		}
	}

	d := l.newDecision(req)
	if err := l.decisions.Append(ctx, d); err != nil {
		if errors.Is(err, errors.ErrCodeConflict) {
			l.metrics.RecordConflict()
		}
		return nil, err
	}

	l.recorded(d)
	return d, nil
}

// Record appends a decision to a requisition that is pending approval and
// applies the status chosen by resolve as one atomic store operation. A
// requisition outside the approval gate yields a conflict and no ledger entry.
func (l *ApprovalLedger) Record(ctx context.Context, req AppendDecisionRequest, resolve repository.StatusResolver) (*repository.RecordedDecision, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(req.RequisitionID)
	defer unlock()

	d := l.newDecision(req)
	out, err := l.decisions.Record(ctx, d, resolve)
	if err != nil {
		if errors.Is(err, errors.ErrCodeConflict) {
			l.metrics.RecordConflict()
		}
		return nil, err
	}

	l.recorded(d)
	return out, nil
}

func (l *ApprovalLedger) newDecision(req AppendDecisionRequest) *repository.ApprovalDecision {
	return &repository.ApprovalDecision{
		ID:            uuid.NewString(),
		RequisitionID: req.RequisitionID,
		ApprovalLevel: req.Level,
		Status:        req.Status,
		ApproverID:    strings.TrimSpace(req.ApproverID),
		ApproverName:  req.ApproverName,
		Comments:      req.Comments,
		DecidedAt:     l.now().UTC(),
	}
}

func (l *ApprovalLedger) recorded(d *repository.ApprovalDecision) {
	l.metrics.RecordDecision(string(d.Status))
	l.log.Info().
		Str("requisition_id", d.RequisitionID).
		Str("decision_id", d.ID).
		Int("level", d.ApprovalLevel).
		Int("sequence", d.Sequence).
		Str("status", string(d.Status)).
		Str("approver_id", d.ApproverID).
		Msg("Approval decision recorded")
}

// History returns a requisition's decisions in append order.
func (l *ApprovalLedger) History(ctx context.Context, requisitionID string) ([]repository.ApprovalDecision, error) {
	if _, err := l.requisitions.GetByID(ctx, requisitionID); err != nil {
		return nil, err
	}
	return l.decisions.ListByRequisition(ctx, requisitionID)
}
