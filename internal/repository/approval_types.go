package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for the approval matrix and ledger ──────────────────────────

// DecisionStatus is the outcome recorded in a ledger entry.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// Valid reports whether s is a known decision status.
func (s DecisionStatus) Valid() bool {
	switch s {
	case DecisionPending, DecisionApproved, DecisionRejected:
		return true
	}
	return false
}

// RequisitionStatus is a requisition's lifecycle state.
type RequisitionStatus string

const (
	StatusDraft           RequisitionStatus = "draft"
	StatusPendingApproval RequisitionStatus = "pending_approval"
	StatusApproved        RequisitionStatus = "approved"
	StatusRejected        RequisitionStatus = "rejected"
	StatusGenerated       RequisitionStatus = "generated"
	StatusSent            RequisitionStatus = "sent"
	StatusAcknowledged    RequisitionStatus = "acknowledged"
)

// Project is a registry entry. Only existence matters to the approval engine.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ThresholdBand maps a monetary range [ThresholdMin, ThresholdMax) to one
// approval level and approver role within a project.
type ThresholdBand struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	ApprovalLevel int             `json:"approval_level"`
	ThresholdMin  decimal.Decimal `json:"threshold_min"` // inclusive
	ThresholdMax  decimal.Decimal `json:"threshold_max"` // exclusive
	ApproverRole  string          `json:"approver_role"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Contains reports whether value falls inside the band.
func (b ThresholdBand) Contains(value decimal.Decimal) bool {
	return b.ThresholdMin.LessThanOrEqual(value) && value.LessThan(b.ThresholdMax)
}

// ApprovalDecision is one immutable ledger entry.
type ApprovalDecision struct {
	ID            string         `json:"id"`
	RequisitionID string         `json:"requisition_id"`
	Sequence      int            `json:"sequence"`
	ApprovalLevel int            `json:"approval_level"`
	Status        DecisionStatus `json:"status"`
	ApproverID    string         `json:"approver_id"`
	ApproverName  string         `json:"approver_name"`
	Comments      string         `json:"comments"`
	DecidedAt     time.Time      `json:"decided_at"`
}

// Requisition is the monetary request gated by the approval matrix.
type Requisition struct {
	ID                string            `json:"id"`
	ProjectID         string            `json:"project_id"`
	RequisitionNumber string            `json:"requisition_number"`
	TotalValue        decimal.Decimal   `json:"total_value"`
	Currency          string            `json:"currency"`
	Status            RequisitionStatus `json:"status"`
	Version           int               `json:"version"`
	CreatedBy         string            `json:"created_by"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// RequisitionApprovalView is the read-only projection the resolver consumes.
type RequisitionApprovalView struct {
	RequisitionID string             `json:"requisition_id"`
	ProjectID     string             `json:"project_id"`
	TotalValue    decimal.Decimal    `json:"total_value"`
	Currency      string             `json:"currency"`
	Decisions     []ApprovalDecision `json:"decisions"`
}

// StatusHistoryEntry is one immutable record in a requisition's status audit trail.
type StatusHistoryEntry struct {
	ID            string                 `json:"id"`
	RequisitionID string                 `json:"requisition_id"`
	StatusBefore  RequisitionStatus      `json:"status_before"`
	StatusAfter   RequisitionStatus      `json:"status_after"`
	ActorID       string                 `json:"actor_id"`
	Comments      string                 `json:"comments"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	PerformedAt   time.Time              `json:"performed_at"`
}

// StatusResolver picks the requisition status that follows a ledger append.
// It receives the locked requisition and its full ledger, new decision
// included. Returning req.Status leaves the requisition unchanged.
type StatusResolver func(req *Requisition, ledger []ApprovalDecision) RequisitionStatus

// RecordedDecision is the outcome of a gated append: the stored decision, the
// ledger it produced and the requisition before and after the transition.
type RecordedDecision struct {
	Decision    *ApprovalDecision
	Ledger      []ApprovalDecision
	Previous    RequisitionStatus
	Requisition *Requisition
}

// Transitioned reports whether the append moved the requisition.
func (r *RecordedDecision) Transitioned() bool {
	return r.Requisition.Status != r.Previous
}
