package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/logger"
	"github.com/pesio-ai/be-procurement-approvals/internal/metrics"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
)

// systemActor performs transitions that no user triggered directly.
const systemActor = "system"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// manualTransitions are the lifecycle moves a caller may request directly.
// pending_approval -> approved|rejected is driven only by the approval engine.
var manualTransitions = map[repository.RequisitionStatus]repository.RequisitionStatus{
	repository.StatusApproved:  repository.StatusGenerated,
	repository.StatusGenerated: repository.StatusSent,
	repository.StatusSent:      repository.StatusAcknowledged,
}

// CreateRequisitionRequest creates a draft requisition.
type CreateRequisitionRequest struct {
	ProjectID         string          `json:"project_id"`
	RequisitionNumber string          `json:"requisition_number"`
	TotalValue        decimal.Decimal `json:"total_value"`
	Currency          string          `json:"currency"`
	CreatedBy         string          `json:"created_by"`
}

// DecisionOutcome is the result of recording a decision through the tracker.
type DecisionOutcome struct {
	Decision    *repository.ApprovalDecision `json:"decision"`
	State       *ApprovalState               `json:"state"`
	Requisition *repository.Requisition      `json:"requisition"`
}

// WorkflowStatusTracker drives a requisition's lifecycle. Approval-gated
// transitions are decided solely from the resolver's output; every
// transition appends one status history entry.
type WorkflowStatusTracker struct {
	requisitions RequisitionStore
	history      StatusHistoryStore
	projects     ProjectRegistry
	resolver     *ApprovalResolver
	ledger       *ApprovalLedger
	notifier     NotificationService
	locks        *keyedMutex
	metrics      *metrics.Metrics
	log          *logger.Logger
}

// NewWorkflowStatusTracker creates a new WorkflowStatusTracker. A nil
// notifier disables notifications.
func NewWorkflowStatusTracker(
	requisitions RequisitionStore,
	history StatusHistoryStore,
	projects ProjectRegistry,
	resolver *ApprovalResolver,
	ledger *ApprovalLedger,
	notifier NotificationService,
	m *metrics.Metrics,
	log *logger.Logger,
) *WorkflowStatusTracker {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &WorkflowStatusTracker{
		requisitions: requisitions,
		history:      history,
		projects:     projects,
		resolver:     resolver,
		ledger:       ledger,
		notifier:     notifier,
		locks:        newKeyedMutex(),
		metrics:      m,
		log:          log.WithComponent("workflow_status_tracker"),
	}
}

// ── Requisition creation ──────────────────────────────────────────────────────

// CreateRequisition validates and stores a new draft requisition.
func (t *WorkflowStatusTracker) CreateRequisition(ctx context.Context, req CreateRequisitionRequest) (*repository.Requisition, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, errors.InvalidInput("project_id", "is required")
	}
	if strings.TrimSpace(req.RequisitionNumber) == "" {
		return nil, errors.InvalidInput("requisition_number", "is required")
	}
	if req.TotalValue.IsNegative() {
		return nil, errors.InvalidInput("total_value", "must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyPattern.MatchString(currency) {
		return nil, errors.InvalidInput("currency", "must be a 3-letter ISO code")
	}

	exists, err := t.projects.Exists(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.UnknownProject(req.ProjectID)
	}

	r := &repository.Requisition{
		ProjectID:         req.ProjectID,
		RequisitionNumber: req.RequisitionNumber,
		TotalValue:        req.TotalValue,
		Currency:          currency,
		Status:            repository.StatusDraft,
		CreatedBy:         req.CreatedBy,
	}
	if err := t.requisitions.Create(ctx, r); err != nil {
		return nil, err
	}

	t.log.Info().
		Str("requisition_id", r.ID).
		Str("project_id", r.ProjectID).
		Str("total_value", r.TotalValue.String()).
		Str("currency", r.Currency).
		Msg("Requisition created")

	return r, nil
}

// GetRequisition returns a requisition by id.
func (t *WorkflowStatusTracker) GetRequisition(ctx context.Context, id string) (*repository.Requisition, error) {
	return t.requisitions.GetByID(ctx, id)
}

// ── Approval gate ─────────────────────────────────────────────────────────────

// ApprovalState evaluates the approval sub-state of a requisition.
func (t *WorkflowStatusTracker) ApprovalState(ctx context.Context, requisitionID string) (*ApprovalState, error) {
	view, err := t.requisitions.GetApprovalView(ctx, requisitionID)
	if err != nil {
		return nil, err
	}
	return t.resolver.State(ctx, view)
}

// Submit moves a draft requisition into pending_approval. When the matrix
// requires no approval for its value it is approved immediately.
func (t *WorkflowStatusTracker) Submit(ctx context.Context, requisitionID, actorID, comments string) (*repository.Requisition, *ApprovalState, error) {
	unlock := t.locks.Lock(requisitionID)
	defer unlock()

	req, err := t.requisitions.GetByID(ctx, requisitionID)
	if err != nil {
		return nil, nil, err
	}
	if req.Status != repository.StatusDraft {
		return nil, nil, errors.Conflict(fmt.Sprintf("requisition cannot be submitted from status '%s'", req.Status))
	}

	state, err := t.ApprovalState(ctx, requisitionID)
	if err != nil {
		return nil, nil, err
	}

	req, err = t.transition(ctx, req, repository.StatusPendingApproval, actorID, comments, nil)
	if err != nil {
		return nil, nil, err
	}
	t.notifier.Publish(ctx, Notification{
		EventType:     EventRequisitionSubmitted,
		RequisitionID: req.ID,
		ProjectID:     req.ProjectID,
		ActorID:       actorID,
	})

	if state.IsFullyApproved && !state.IsRejected {
		req, err = t.transition(ctx, req, repository.StatusApproved, systemActor,
			"no approval level required for this value", map[string]interface{}{"required_levels": 0})
		if err != nil {
			return nil, nil, err
		}
		t.notifyApproved(ctx, req, systemActor)
		return req, state, nil
	}

	t.notifyApprovalRequired(ctx, req, actorID, state)
	return req, state, nil
}

// RecordDecision appends a decision to the ledger and applies the resulting
// approval-gated transition, if any. The pending_approval check, the append
// and the transition are one atomic store operation. A rejection is terminal.
func (t *WorkflowStatusTracker) RecordDecision(ctx context.Context, in AppendDecisionRequest) (*DecisionOutcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	unlock := t.locks.Lock(in.RequisitionID)
	defer unlock()

	req, err := t.requisitions.GetByID(ctx, in.RequisitionID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.StatusPendingApproval {
		return nil, repository.NotPendingApproval(req)
	}

	bands, err := t.resolver.activeBands(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	recorded, err := t.ledger.Record(ctx, in, approvalGate(bands))
	if err != nil {
		return nil, err
	}
	decision, req := recorded.Decision, recorded.Requisition

	state := Evaluate(bands, &repository.RequisitionApprovalView{
		RequisitionID: req.ID,
		ProjectID:     req.ProjectID,
		TotalValue:    req.TotalValue,
		Currency:      req.Currency,
		Decisions:     recorded.Ledger,
	})

	t.notifier.Publish(ctx, Notification{
		EventType:     EventDecisionRecorded,
		RequisitionID: req.ID,
		ProjectID:     req.ProjectID,
		ActorID:       decision.ApproverID,
		Level:         decision.ApprovalLevel,
		Payload: map[string]interface{}{
			"decision_id": decision.ID,
			"status":      string(decision.Status),
			"comments":    decision.Comments,
		},
	})

	if recorded.Transitioned() {
		t.transitioned(ctx, recorded.Previous, req, decision.ApproverID, decision.Comments, map[string]interface{}{
			"decision_id": decision.ID,
			"level":       decision.ApprovalLevel,
		})
	}

	switch req.Status {
	case repository.StatusRejected:
		t.notifier.Publish(ctx, Notification{
			EventType:     EventRequisitionRejected,
			RequisitionID: req.ID,
			ProjectID:     req.ProjectID,
			ActorID:       decision.ApproverID,
			Level:         decision.ApprovalLevel,
			Payload:       map[string]interface{}{"reason": decision.Comments},
		})
	case repository.StatusApproved:
		t.notifyApproved(ctx, req, decision.ApproverID)
	default:
		t.notifyApprovalRequired(ctx, req, decision.ApproverID, &state)
	}

	return &DecisionOutcome{Decision: decision, State: &state, Requisition: req}, nil
}

// approvalGate moves a pending requisition to rejected on any rejection and to
// approved once every required level is satisfied.
func approvalGate(bands []repository.ThresholdBand) repository.StatusResolver {
	return func(req *repository.Requisition, ledger []repository.ApprovalDecision) repository.RequisitionStatus {
		switch {
		case IsRejected(ledger):
			return repository.StatusRejected
		case IsFullyApproved(MatchBands(bands, req.TotalValue), ledger):
			return repository.StatusApproved
		}
		return req.Status
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Advance applies a non-approval-gated lifecycle transition
// (approved -> generated -> sent -> acknowledged).
func (t *WorkflowStatusTracker) Advance(ctx context.Context, requisitionID string, to repository.RequisitionStatus, actorID, comments string) (*repository.Requisition, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, errors.InvalidInput("actor_id", "is required")
	}
	switch to {
	case repository.StatusGenerated, repository.StatusSent, repository.StatusAcknowledged:
	case repository.StatusPendingApproval, repository.StatusApproved, repository.StatusRejected:
		return nil, errors.InvalidInput("status", fmt.Sprintf("'%s' is reached through the approval workflow", to))
	default:
		return nil, errors.InvalidInput("status", fmt.Sprintf("unknown status %q", to))
	}

	unlock := t.locks.Lock(requisitionID)
	defer unlock()

	req, err := t.requisitions.GetByID(ctx, requisitionID)
	if err != nil {
		return nil, err
	}
	if next, ok := manualTransitions[req.Status]; !ok || next != to {
		return nil, errors.Conflict(fmt.Sprintf("cannot move requisition from '%s' to '%s'", req.Status, to))
	}

	return t.transition(ctx, req, to, actorID, comments, nil)
}

// History returns the status audit trail of a requisition, oldest first.
func (t *WorkflowStatusTracker) History(ctx context.Context, requisitionID string) ([]repository.StatusHistoryEntry, error) {
	if _, err := t.requisitions.GetByID(ctx, requisitionID); err != nil {
		return nil, err
	}
	return t.history.ListByRequisition(ctx, requisitionID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// transition applies a compare-and-set status change and appends its audit
// entry. Audit failures are logged, never returned.
func (t *WorkflowStatusTracker) transition(
	ctx context.Context,
	req *repository.Requisition,
	to repository.RequisitionStatus,
	actorID, comments string,
	metadata map[string]interface{},
) (*repository.Requisition, error) {
	from := req.Status
	updated, err := t.requisitions.UpdateStatus(ctx, req.ID, from, req.Version, to)
	if err != nil {
		return nil, err
	}
	t.transitioned(ctx, from, updated, actorID, comments, metadata)
	return updated, nil
}

// transitioned records a status change that has already been stored.
func (t *WorkflowStatusTracker) transitioned(
	ctx context.Context,
	from repository.RequisitionStatus,
	req *repository.Requisition,
	actorID, comments string,
	metadata map[string]interface{},
) {
	t.metrics.RecordTransition(string(from), string(req.Status))
	t.appendHistory(ctx, &repository.StatusHistoryEntry{
		RequisitionID: req.ID,
		StatusBefore:  from,
		StatusAfter:   req.Status,
		ActorID:       actorID,
		Comments:      comments,
		Metadata:      metadata,
	})

	t.log.Info().
		Str("requisition_id", req.ID).
		Str("from", string(from)).
		Str("to", string(req.Status)).
		Str("actor_id", actorID).
		Msg("Requisition status changed")
}

func (t *WorkflowStatusTracker) appendHistory(ctx context.Context, entry *repository.StatusHistoryEntry) {
	if err := t.history.Append(ctx, entry); err != nil {
		t.log.Warn().Err(err).
			Str("requisition_id", entry.RequisitionID).
			Str("status_after", string(entry.StatusAfter)).
			Msg("Failed to write status history entry")
	}
}

func (t *WorkflowStatusTracker) notifyApproved(ctx context.Context, req *repository.Requisition, actorID string) {
	t.notifier.Publish(ctx, Notification{
		EventType:     EventRequisitionApproved,
		RequisitionID: req.ID,
		ProjectID:     req.ProjectID,
		ActorID:       actorID,
		Payload: map[string]interface{}{
			"total_value": req.TotalValue.String(),
			"currency":    req.Currency,
		},
	})
}

func (t *WorkflowStatusTracker) notifyApprovalRequired(ctx context.Context, req *repository.Requisition, actorID string, state *ApprovalState) {
	if state.NextPendingLevel == 0 {
		return
	}
	t.notifier.Publish(ctx, Notification{
		EventType:     EventApprovalRequired,
		RequisitionID: req.ID,
		ProjectID:     req.ProjectID,
		ActorID:       actorID,
		Level:         state.NextPendingLevel,
		Roles:         state.PendingRoles,
	})
}
