package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
)

// ApprovalState is the approval sub-state of a requisition.
type ApprovalState struct {
	RequisitionID    string                     `json:"requisition_id,omitempty"`
	RequiredLevels   []repository.ThresholdBand `json:"required_levels"`
	NextPendingLevel int                        `json:"next_pending_level"`
	IsFullyApproved  bool                       `json:"is_fully_approved"`
	IsRejected       bool                       `json:"is_rejected"`
	PendingRoles     []string                   `json:"pending_roles"`
}

// ApprovalResolver computes required approval levels and progress. It holds
// no state of its own; every answer is derived from the registry, the
// threshold matrix and the decisions passed in.
type ApprovalResolver struct {
	projects ProjectRegistry
	matrix   ThresholdMatrixStore
}

// NewApprovalResolver creates a new ApprovalResolver.
func NewApprovalResolver(projects ProjectRegistry, matrix ThresholdMatrixStore) *ApprovalResolver {
	return &ApprovalResolver{projects: projects, matrix: matrix}
}

// RequiredLevels returns every active band of the project whose range
// contains totalValue. Overlapping bands all match.
func (r *ApprovalResolver) RequiredLevels(ctx context.Context, projectID string, totalValue decimal.Decimal) ([]repository.ThresholdBand, error) {
	if totalValue.IsNegative() {
		return nil, errors.InvalidInput("total_value", "must not be negative")
	}
	bands, err := r.activeBands(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return MatchBands(bands, totalValue), nil
}

// NextPendingLevel returns the level that must be approved next, or 0 when
// no further approval is needed.
func (r *ApprovalResolver) NextPendingLevel(ctx context.Context, view *repository.RequisitionApprovalView) (int, error) {
	required, err := r.RequiredLevels(ctx, view.ProjectID, view.TotalValue)
	if err != nil {
		return 0, err
	}
	return NextPendingLevel(required, view.Decisions), nil
}

// IsFullyApproved reports whether every required level has been satisfied.
func (r *ApprovalResolver) IsFullyApproved(ctx context.Context, view *repository.RequisitionApprovalView) (bool, error) {
	required, err := r.RequiredLevels(ctx, view.ProjectID, view.TotalValue)
	if err != nil {
		return false, err
	}
	return IsFullyApproved(required, view.Decisions), nil
}

// IsRejected reports whether any decision in the view is a rejection.
func (r *ApprovalResolver) IsRejected(view *repository.RequisitionApprovalView) bool {
	return IsRejected(view.Decisions)
}

// ApproverRoles returns the roles of the project's active bands at level.
func (r *ApprovalResolver) ApproverRoles(ctx context.Context, projectID string, level int) ([]string, error) {
	if level < 1 {
		return nil, errors.InvalidInput("level", "must be >= 1")
	}
	bands, err := r.activeBands(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return rolesAtLevel(bands, level), nil
}

// State evaluates the full approval sub-state of a requisition view with a
// single matrix read.
func (r *ApprovalResolver) State(ctx context.Context, view *repository.RequisitionApprovalView) (*ApprovalState, error) {
	if view.TotalValue.IsNegative() {
		return nil, errors.InvalidInput("total_value", "must not be negative")
	}
	bands, err := r.activeBands(ctx, view.ProjectID)
	if err != nil {
		return nil, err
	}
	state := Evaluate(bands, view)
	return &state, nil
}

func (r *ApprovalResolver) activeBands(ctx context.Context, projectID string) ([]repository.ThresholdBand, error) {
	if projectID == "" {
		return nil, errors.InvalidInput("project_id", "is required")
	}
	exists, err := r.projects.Exists(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.UnknownProject(projectID)
	}
	return r.matrix.Lookup(ctx, projectID)
}

// ── pure evaluation ──────────────────────────────────────────────────────────

// MatchBands returns the active bands with ThresholdMin <= value < ThresholdMax,
// preserving input order.
func MatchBands(bands []repository.ThresholdBand, value decimal.Decimal) []repository.ThresholdBand {
	matched := []repository.ThresholdBand{}
	for _, b := range bands {
		if b.IsActive && b.Contains(value) {
			matched = append(matched, b)
		}
	}
	return matched
}

// NextPendingLevel returns maxApproved+1 while maxApproved < maxRequired and
// 0 otherwise. The result steps one level at a time from the highest approved
// level even when that level is not itself among the required bands, so a
// value that only matches level 3 still asks for levels 1 and 2 first.
func NextPendingLevel(required []repository.ThresholdBand, decisions []repository.ApprovalDecision) int {
	maxRequired := maxBandLevel(required)
	if maxRequired == 0 {
		return 0
	}
	maxApproved := maxApprovedLevel(decisions)
	if maxApproved >= maxRequired {
		return 0
	}
	return maxApproved + 1
}

// IsFullyApproved is true when nothing is required or the highest approved
// level reaches the highest required level.
func IsFullyApproved(required []repository.ThresholdBand, decisions []repository.ApprovalDecision) bool {
	maxRequired := maxBandLevel(required)
	if maxRequired == 0 {
		return true
	}
	return maxApprovedLevel(decisions) >= maxRequired
}

// IsRejected is true when any decision is a rejection. Rejections do not
// affect NextPendingLevel or IsFullyApproved.
func IsRejected(decisions []repository.ApprovalDecision) bool {
	for _, d := range decisions {
		if d.Status == repository.DecisionRejected {
			return true
		}
	}
	return false
}

// Evaluate computes the approval state from a project's active bands.
func Evaluate(bands []repository.ThresholdBand, view *repository.RequisitionApprovalView) ApprovalState {
	required := MatchBands(bands, view.TotalValue)
	next := NextPendingLevel(required, view.Decisions)

	roles := []string{}
	if next > 0 {
		roles = rolesAtLevel(bands, next)
	}

	return ApprovalState{
		RequisitionID:    view.RequisitionID,
		RequiredLevels:   required,
		NextPendingLevel: next,
		IsFullyApproved:  IsFullyApproved(required, view.Decisions),
		IsRejected:       IsRejected(view.Decisions),
		PendingRoles:     roles,
	}
}

func maxBandLevel(bands []repository.ThresholdBand) int {
	max := 0
	for _, b := range bands {
		if b.ApprovalLevel > max {
			max = b.ApprovalLevel
		}
	}
	return max
}

func maxApprovedLevel(decisions []repository.ApprovalDecision) int {
	max := 0
	for _, d := range decisions {
		if d.Status == repository.DecisionApproved && d.ApprovalLevel > max {
			max = d.ApprovalLevel
		}
	}
	return max
}

func rolesAtLevel(bands []repository.ThresholdBand, level int) []string {
	roles := []string{}
	seen := make(map[string]struct{})
	for _, b := range bands {
		if !b.IsActive || b.ApprovalLevel != level {
			continue
		}
		if _, ok := seen[b.ApproverRole]; ok {
			continue
		}
		seen[b.ApproverRole] = struct{}{}
		roles = append(roles, b.ApproverRole)
	}
	return roles
}
