package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/logger"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
)

func TestCreateRequisition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.newRequisition(t, 1200)
	assert.Equal(t, repository.StatusDraft, req.Status)
	assert.Equal(t, "USD", req.Currency)
	assert.Equal(t, 1, req.Version)

	tests := []struct {
		name string
		in   CreateRequisitionRequest
		code errors.ErrorCode
	}{
		{"missing project", CreateRequisitionRequest{RequisitionNumber: "R", Currency: "USD"}, errors.ErrCodeValidation},
		{"negative value", CreateRequisitionRequest{ProjectID: "1", RequisitionNumber: "R", Currency: "USD", TotalValue: decimal.NewFromInt(-5)}, errors.ErrCodeValidation},
		{"bad currency", CreateRequisitionRequest{ProjectID: "1", RequisitionNumber: "R", Currency: "dollars"}, errors.ErrCodeValidation},
		{"unknown project", CreateRequisitionRequest{ProjectID: "nope", RequisitionNumber: "R", Currency: "EUR"}, errors.ErrCodeUnknownProject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.tracker.CreateRequisition(ctx, tt.in)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestSubmit_RequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.newRequisition(t, 15000)

	out, state, err := env.tracker.Submit(ctx, req.ID, "buyer-1", "please review")
	require.NoError(t, err)

	assert.Equal(t, repository.StatusPendingApproval, out.Status)
	assert.Equal(t, 1, state.NextPendingLevel)
	assert.False(t, state.IsFullyApproved)
	assert.Equal(t, []string{EventRequisitionSubmitted, EventApprovalRequired}, env.notifier.types())

	note, ok := env.notifier.last(EventApprovalRequired)
	require.True(t, ok)
	assert.Equal(t, 1, note.Level)
	assert.Equal(t, []string{"procurement"}, note.Roles)

	_, _, err = env.tracker.Submit(ctx, req.ID, "buyer-1", "")
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

func TestSubmit_AutoApprovesWhenNothingRequired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.newRequisition(t, 120000)

	out, state, err := env.tracker.Submit(ctx, req.ID, "buyer-1", "")
	require.NoError(t, err)

	assert.Equal(t, repository.StatusApproved, out.Status)
	assert.True(t, state.IsFullyApproved)
	assert.Empty(t, state.RequiredLevels)

	history, err := env.tracker.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, repository.StatusDraft, history[0].StatusBefore)
	assert.Equal(t, repository.StatusPendingApproval, history[0].StatusAfter)
	assert.Equal(t, repository.StatusApproved, history[1].StatusAfter)
	assert.Equal(t, systemActor, history[1].ActorID)

	assert.Contains(t, env.notifier.types(), EventRequisitionApproved)
}

func TestRecordDecision_ProgressesToApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitted(t, 15000)

	outcome, err := env.tracker.RecordDecision(ctx, approve(req.ID, 1, "alice"))
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPendingApproval, outcome.Requisition.Status)
	assert.Equal(t, 2, outcome.State.NextPendingLevel)

	outcome, err = env.tracker.RecordDecision(ctx, approve(req.ID, 2, "bob"))
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, outcome.Requisition.Status)
	assert.True(t, outcome.State.IsFullyApproved)
	assert.Equal(t, 0, outcome.State.NextPendingLevel)
	assert.Equal(t, 2, outcome.Decision.Sequence)

	history, err := env.tracker.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[1]
	assert.Equal(t, repository.StatusPendingApproval, last.StatusBefore)
	assert.Equal(t, repository.StatusApproved, last.StatusAfter)
	assert.Equal(t, "bob", last.ActorID)
	assert.False(t, last.PerformedAt.IsZero())

	note, ok := env.notifier.last(EventRequisitionApproved)
	require.True(t, ok)
	assert.Equal(t, req.ID, note.RequisitionID)
}

func TestRecordDecision_RejectionIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitted(t, 15000)

	outcome, err := env.tracker.RecordDecision(ctx, AppendDecisionRequest{
		RequisitionID: req.ID,
		Level:         1,
		Status:        repository.DecisionRejected,
		ApproverID:    "alice",
		Comments:      "over budget",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, outcome.Requisition.Status)
	assert.True(t, outcome.State.IsRejected)

	_, err = env.tracker.RecordDecision(ctx, approve(req.ID, 1, "bob"))
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	_, err = env.tracker.Advance(ctx, req.ID, repository.StatusGenerated, "ops", "")
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	note, ok := env.notifier.last(EventRequisitionRejected)
	require.True(t, ok)
	assert.Equal(t, "over budget", note.Payload["reason"])
}

func TestRecordDecision_RequiresPendingApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.newRequisition(t, 15000)

	_, err := env.tracker.RecordDecision(ctx, approve(req.ID, 1, "alice"))
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	_, err = env.tracker.RecordDecision(ctx, approve("missing", 1, "alice"))
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = env.tracker.RecordDecision(ctx, approve(req.ID, 0, "alice"))
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
}

func TestRecordDecision_DuplicateApprovalConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitted(t, 30000)

	_, err := env.tracker.RecordDecision(ctx, approve(req.ID, 1, "alice"))
	require.NoError(t, err)
	_, err = env.tracker.RecordDecision(ctx, approve(req.ID, 1, "bob"))
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	state, err := env.tracker.ApprovalState(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.NextPendingLevel)
}

func TestAdvance_PostApprovalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitted(t, 1000)

	_, err := env.tracker.RecordDecision(ctx, approve(req.ID, 1, "alice"))
	require.NoError(t, err)

	// Skipping a step is refused.
	_, err = env.tracker.Advance(ctx, req.ID, repository.StatusSent, "ops", "")
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	for _, to := range []repository.RequisitionStatus{
		repository.StatusGenerated,
		repository.StatusSent,
		repository.StatusAcknowledged,
	} {
		out, err := env.tracker.Advance(ctx, req.ID, to, "ops", "")
		require.NoError(t, err)
		assert.Equal(t, to, out.Status)
	}

	history, err := env.tracker.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestAdvance_RejectsApprovalGatedTargets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitted(t, 15000)

	for _, to := range []repository.RequisitionStatus{
		repository.StatusApproved,
		repository.StatusRejected,
		repository.StatusPendingApproval,
		"archived",
	} {
		_, err := env.tracker.Advance(ctx, req.ID, to, "ops", "")
		assert.True(t, errors.Is(err, errors.ErrCodeValidation), "to=%s got %v", to, err)
	}

	_, err := env.tracker.Advance(ctx, req.ID, repository.StatusGenerated, "", "")
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
}

func TestStatusUpdate_StaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.newRequisition(t, 15000)

	_, err := env.store.Requisitions().UpdateStatus(ctx, req.ID, repository.StatusDraft, req.Version, repository.StatusPendingApproval)
	require.NoError(t, err)

	_, err = env.store.Requisitions().UpdateStatus(ctx, req.ID, repository.StatusDraft, req.Version, repository.StatusPendingApproval)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

// interleavedReads runs hook once, right after the first GetByID returns, so
// another writer can act between a tracker's read and its append.
type interleavedReads struct {
	RequisitionStore
	once sync.Once
	hook func()
}

func (s *interleavedReads) GetByID(ctx context.Context, id string) (*repository.Requisition, error) {
	req, err := s.RequisitionStore.GetByID(ctx, id)
	s.once.Do(s.hook)
	return req, err
}

func TestRecordDecision_SecondInstanceSeesRejection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitted(t, 15000)

	// A second tracker over the same store has its own in-process locks,
	// like another service instance.
	log := logger.Nop()
	reads := &interleavedReads{RequisitionStore: env.store.Requisitions()}
	other := NewWorkflowStatusTracker(reads, env.store.History(), env.store.Projects(), env.resolver,
		NewApprovalLedger(env.store.Decisions(), reads, nil, log), nil, nil, log)

	reads.hook = func() {
		_, err := env.tracker.RecordDecision(ctx, AppendDecisionRequest{
			RequisitionID: req.ID,
			Level:         1,
			Status:        repository.DecisionRejected,
			ApproverID:    "alice",
		})
		require.NoError(t, err)
	}

	_, err := other.RecordDecision(ctx, approve(req.ID, 1, "bob"))
	assert.True(t, errors.Is(err, errors.ErrCodeConflict), "got %v", err)

	decisions, err := env.ledger.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, repository.DecisionRejected, decisions[0].Status)

	current, err := env.tracker.GetRequisition(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, current.Status)

	history, err := env.tracker.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRecordDecision_TransitionBumpsVersionOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submitted(t, 3000)

	outcome, err := env.tracker.RecordDecision(ctx, approve(req.ID, 1, "alice"))
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, outcome.Requisition.Status)
	assert.Equal(t, req.Version+1, outcome.Requisition.Version)

	// The stored row matches what the caller was handed.
	_, err = env.tracker.Advance(ctx, req.ID, repository.StatusGenerated, "ops", "")
	require.NoError(t, err)
}
