package service

import (
	"context"

	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
)

// ProjectRegistry answers whether a project exists. It distinguishes an
// unknown project from one with no configured bands.
type ProjectRegistry interface {
	Exists(ctx context.Context, projectID string) (bool, error)
}

// ThresholdMatrixStore returns a project's active bands sorted by level.
type ThresholdMatrixStore interface {
	Lookup(ctx context.Context, projectID string) ([]repository.ThresholdBand, error)
}

// ThresholdBandStore is the admin surface over the threshold matrix.
type ThresholdBandStore interface {
	ThresholdMatrixStore
	Create(ctx context.Context, band *repository.ThresholdBand) error
	GetByID(ctx context.Context, id string) (*repository.ThresholdBand, error)
	List(ctx context.Context, projectID string, activeOnly bool) ([]repository.ThresholdBand, error)
	SetActive(ctx context.Context, id string, active bool) (*repository.ThresholdBand, error)
}

// RequisitionStore reads requisitions and applies compare-and-set status changes.
type RequisitionStore interface {
	Create(ctx context.Context, req *repository.Requisition) error
	GetByID(ctx context.Context, id string) (*repository.Requisition, error)
	GetApprovalView(ctx context.Context, id string) (*repository.RequisitionApprovalView, error)
	UpdateStatus(ctx context.Context, id string, from repository.RequisitionStatus, expectedVersion int, to repository.RequisitionStatus) (*repository.Requisition, error)
}

// DecisionStore is the append-only persistence behind the ledger. Append must
// reject a second approved decision at the same level atomically and return
// NotFound for an unknown requisition. Record additionally requires the
// requisition to be pending approval and applies the resolved status in the
// same atomic step.
type DecisionStore interface {
	Append(ctx context.Context, d *repository.ApprovalDecision) error
	Record(ctx context.Context, d *repository.ApprovalDecision, resolve repository.StatusResolver) (*repository.RecordedDecision, error)
	ListByRequisition(ctx context.Context, requisitionID string) ([]repository.ApprovalDecision, error)
}

// StatusHistoryStore persists the requisition status audit trail.
type StatusHistoryStore interface {
	Append(ctx context.Context, entry *repository.StatusHistoryEntry) error
	ListByRequisition(ctx context.Context, requisitionID string) ([]repository.StatusHistoryEntry, error)
}
