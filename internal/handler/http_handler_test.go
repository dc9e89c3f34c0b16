package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement-approvals/internal/logger"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-procurement-approvals/internal/service"
)

type fixture struct {
	mux      *http.ServeMux
	tracker  *service.WorkflowStatusTracker
	resolver *service.ApprovalResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.Projects().Create(ctx, &repository.Project{ID: "1", Name: "Plant", IsActive: true}))
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
	resolver := service.NewApprovalResolver(store.Projects(), store.Bands())
	ledger := service.NewApprovalLedger(store.Decisions(), store.Requisitions(), nil, log)
	tracker := service.NewWorkflowStatusTracker(store.Requisitions(), store.History(), store.Projects(), resolver, ledger, nil, nil, log)
	matrix := service.NewThresholdMatrixService(store.Bands(), store.Projects(), log)

	mux := http.NewServeMux()
	NewHTTPHandler(tracker, ledger, resolver, matrix, log).RegisterRoutes(mux)
	return &fixture{mux: mux, tracker: tracker, resolver: resolver}
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// submitted creates and submits a requisition through the API.
func (f *fixture) submitted(t *testing.T, value string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/requisitions", map[string]interface{}{
		"project_id":         "1",
		"requisition_number": "REQ-7",
		"total_value":        value,
		"currency":           "USD",
		"created_by":         "buyer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created repository.Requisition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(t, http.MethodPost, "/api/v1/requisitions/submit", map[string]string{"id": created.ID, "actor_id": "buyer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return created.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGetRequiredLevels(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/approvals/required-levels?project_id=1&value=15000", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		RequiredLevels []repository.ThresholdBand `json:"required_levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.RequiredLevels, 1)
	assert.Equal(t, 2, resp.RequiredLevels[0].ApprovalLevel)
	assert.Equal(t, "approver", resp.RequiredLevels[0].ApproverRole)
}

func TestGetRequiredLevels_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown project", "/api/v1/approvals/required-levels?project_id=9&value=10", http.StatusNotFound, "UNKNOWN_PROJECT"},
		{"bad value", "/api/v1/approvals/required-levels?project_id=1&value=abc", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"negative value", "/api/v1/approvals/required-levels?project_id=1&value=-1", http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, string(decodeError(t, rec).Code))
		})
	}

	rec := f.do(t, http.MethodPost, "/api/v1/approvals/required-levels?project_id=1&value=1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDecisionFlow(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, "15000")

	rec := f.do(t, http.MethodGet, "/api/v1/approvals/state?requisition_id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state service.ApprovalState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 1, state.NextPendingLevel)
	assert.False(t, state.IsFullyApproved)
	assert.False(t, state.IsRejected)

	rec = f.do(t, http.MethodPost, "/api/v1/approvals/decisions", map[string]interface{}{
		"requisition_id": id, "level": 1, "status": "approved", "approver_id": "alice", "approver_name": "Alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/approvals/decisions", map[string]interface{}{
		"requisition_id": id, "level": 2, "status": "approved", "approver_id": "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var outcome service.DecisionOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.State.IsFullyApproved)
	assert.Equal(t, repository.StatusApproved, outcome.Requisition.Status)
	assert.Equal(t, 2, outcome.Decision.ApprovalLevel)

	rec = f.do(t, http.MethodGet, "/api/v1/approvals/decisions?requisition_id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Decisions []repository.ApprovalDecision `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history.Decisions, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/requisitions/history?id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statusHistory struct {
		History []repository.StatusHistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statusHistory))
	assert.Len(t, statusHistory.History, 2)
}

func TestRecordDecision_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, "15000")

	rec := f.do(t, http.MethodPost, "/api/v1/approvals/decisions", map[string]interface{}{
		"requisition_id": id, "level": 1, "status": "approved", "approver_id": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"duplicate approval", map[string]interface{}{"requisition_id": id, "level": 1, "status": "approved", "approver_id": "bob"}, http.StatusConflict, "CONFLICT"},
		{"missing approver", map[string]interface{}{"requisition_id": id, "level": 2, "status": "approved"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"level zero", map[string]interface{}{"requisition_id": id, "level": 0, "status": "approved", "approver_id": "bob"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown status", map[string]interface{}{"requisition_id": id, "level": 2, "status": "maybe", "approver_id": "bob"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown requisition", map[string]interface{}{"requisition_id": "nope", "level": 1, "status": "approved", "approver_id": "bob"}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/approvals/decisions", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, string(decodeError(t, rec).Code))
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals/decisions", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdvanceRequisition(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, "150000") // above every band: approved on submit

	rec := f.do(t, http.MethodGet, "/api/v1/requisitions/get?id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var req repository.Requisition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	assert.Equal(t, repository.StatusApproved, req.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/requisitions/advance", map[string]string{"id": id, "status": "generated", "actor_id": "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/requisitions/advance", map[string]string{"id": id, "status": "acknowledged", "actor_id": "ops"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/requisitions/advance", map[string]string{"id": id, "status": "approved", "actor_id": "ops"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThresholdBandRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/threshold-bands", map[string]interface{}{
		"project_id": "1", "approval_level": 4, "threshold_min": "100000", "threshold_max": "1000000", "approver_role": "board",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var band repository.ThresholdBand
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &band))
	assert.True(t, band.ThresholdMin.Equal(decimal.NewFromInt(100000)))

	rec = f.do(t, http.MethodGet, "/api/v1/approvals/roles?project_id=1&level=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roles struct {
		Roles []string `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	assert.Equal(t, []string{"board"}, roles.Roles)

	rec = f.do(t, http.MethodPost, "/api/v1/threshold-bands/deactivate", map[string]string{"id": band.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/threshold-bands?project_id=1&active_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 3, list.Total)

	rec = f.do(t, http.MethodPost, "/api/v1/threshold-bands/activate", map[string]string{"id": band.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/threshold-bands/get?id="+band.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &band))
	assert.True(t, band.IsActive)

	rec = f.do(t, http.MethodPost, "/api/v1/threshold-bands", map[string]interface{}{
		"project_id": "1", "approval_level": 4, "threshold_min": "100000", "threshold_max": "1000000", "approver_role": "board",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/threshold-bands", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
