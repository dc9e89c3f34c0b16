package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement-approvals/internal/logger"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository/memory"
)

// recordingNotifier captures published notifications.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Notification
}

func (n *recordingNotifier) Publish(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, note)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.EventType)
	}
	return out
}

func (n *recordingNotifier) last(eventType string) (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].EventType == eventType {
			return n.events[i], true
		}
	}
	return Notification{}, false
}

type testEnv struct {
	store    *memory.Store
	resolver *ApprovalResolver
	ledger   *ApprovalLedger
	tracker  *WorkflowStatusTracker
	matrix   *ThresholdMatrixService
	notifier *recordingNotifier
}

// newTestEnv wires the engine over a memory store holding project "1" with
// L1 procurement [0,5000), L2 approver [5000,25000), L3 admin [25000,100000).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.Projects().Create(ctx, &repository.Project{ID: "1", Name: "Plant expansion", IsActive: true}))
	require.NoError(t, store.Projects().Create(ctx, &repository.Project{ID: "empty", Name: "No matrix", IsActive: true}))
	for _, b := range []struct {
		level    int
		role     string
		min, max int64
	}{
		{1, "procurement", 0, 5000},
		{2, "approver", 5000, 25000},
		{3, "admin", 25000, 100000},
	} {
		require.NoError(t, store.Bands().Create(ctx, &repository.ThresholdBand{
			ProjectID:     "1",
			ApprovalLevel: b.level,
			ThresholdMin:  decimal.NewFromInt(b.min),
			ThresholdMax:  decimal.NewFromInt(b.max),
			ApproverRole:  b.role,
			IsActive:      true,
		}))
	}

	log := logger.Nop()
	notifier := &recordingNotifier{}
	resolver := NewApprovalResolver(store.Projects(), store.Bands())
	ledger := NewApprovalLedger(store.Decisions(), store.Requisitions(), nil, log)
	tracker := NewWorkflowStatusTracker(store.Requisitions(), store.History(), store.Projects(), resolver, ledger, notifier, nil, log)

	return &testEnv{
		store:    store,
		resolver: resolver,
		ledger:   ledger,
		tracker:  tracker,
		matrix:   NewThresholdMatrixService(store.Bands(), store.Projects(), log),
		notifier: notifier,
	}
}

// newRequisition creates a draft requisition for project "1".
func (e *testEnv) newRequisition(t *testing.T, value int64) *repository.Requisition {
	t.Helper()
	req, err := e.tracker.CreateRequisition(context.Background(), CreateRequisitionRequest{
		ProjectID:         "1",
		RequisitionNumber: "REQ-001",
		TotalValue:        decimal.NewFromInt(value),
		Currency:          "usd",
		CreatedBy:         "buyer-1",
	})
	require.NoError(t, err)
	return req
}

// submitted creates and submits a requisition.
func (e *testEnv) submitted(t *testing.T, value int64) *repository.Requisition {
	t.Helper()
	req := e.newRequisition(t, value)
	out, _, err := e.tracker.Submit(context.Background(), req.ID, "buyer-1", "")
	require.NoError(t, err)
	return out
}

func approve(requisitionID string, level int, approver string) AppendDecisionRequest {
	return AppendDecisionRequest{
		RequisitionID: requisitionID,
		Level:         level,
		Status:        repository.DecisionApproved,
		ApproverID:    approver,
		ApproverName:  approver,
	}
}

func bandLevels(bands []repository.ThresholdBand) []int {
	levels := make([]int, 0, len(bands))
	for _, b := range bands {
		levels = append(levels, b.ApprovalLevel)
	}
	return levels
}
