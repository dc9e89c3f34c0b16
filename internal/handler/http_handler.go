package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/logger"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
	"github.com/pesio-ai/be-procurement-approvals/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	tracker  *service.WorkflowStatusTracker
	ledger   *service.ApprovalLedger
	resolver *service.ApprovalResolver
	matrix   *service.ThresholdMatrixService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	tracker *service.WorkflowStatusTracker,
	ledger *service.ApprovalLedger,
	resolver *service.ApprovalResolver,
	matrix *service.ThresholdMatrixService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		tracker:  tracker,
		ledger:   ledger,
		resolver: resolver,
		matrix:   matrix,
		log:      log.WithComponent("http_handler"),
	}
}

// RegisterRoutes mounts every API route on mux
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	// Approval routes
	mux.HandleFunc("/api/v1/approvals/required-levels", h.GetRequiredLevels)
	mux.HandleFunc("/api/v1/approvals/state", h.GetApprovalState)
	mux.HandleFunc("/api/v1/approvals/roles", h.GetApproverRoles)
	mux.HandleFunc("/api/v1/approvals/decisions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListDecisions(w, r)
		case http.MethodPost:
			h.RecordDecision(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Requisition routes
	mux.HandleFunc("/api/v1/requisitions", h.CreateRequisition)
	mux.HandleFunc("/api/v1/requisitions/get", h.GetRequisition)
	mux.HandleFunc("/api/v1/requisitions/submit", h.SubmitRequisition)
	mux.HandleFunc("/api/v1/requisitions/advance", h.AdvanceRequisition)
	mux.HandleFunc("/api/v1/requisitions/history", h.GetStatusHistory)

	// Threshold matrix routes
	mux.HandleFunc("/api/v1/threshold-bands", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListBands(w, r)
		case http.MethodPost:
			h.CreateBand(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/threshold-bands/get", h.GetBand)
	mux.HandleFunc("/api/v1/threshold-bands/activate", h.setBandActive(true))
	mux.HandleFunc("/api/v1/threshold-bands/deactivate", h.setBandActive(false))
}

// ── Approvals ─────────────────────────────────────────────────────────────────

// GetRequiredLevels handles required approval level lookups
func (h *HTTPHandler) GetRequiredLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	projectID := r.URL.Query().Get("project_id")
	value, err := decimal.NewFromString(r.URL.Query().Get("value"))
	if err != nil {
		h.writeError(w, errors.InvalidInput("value", "must be a decimal number"))
		return
	}

	bands, err := h.resolver.RequiredLevels(r.Context(), projectID, value)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_id":      projectID,
		"value":           value,
		"required_levels": bands,
	})
}

// GetApprovalState handles approval state requests
func (h *HTTPHandler) GetApprovalState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requisitionID := r.URL.Query().Get("requisition_id")
	if requisitionID == "" {
		h.writeError(w, errors.InvalidInput("requisition_id", "is required"))
		return
	}

	state, err := h.tracker.ApprovalState(r.Context(), requisitionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// GetApproverRoles handles approver role lookups for a level
func (h *HTTPHandler) GetApproverRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	projectID := r.URL.Query().Get("project_id")
	level, err := strconv.Atoi(r.URL.Query().Get("level"))
	if err != nil {
		h.writeError(w, errors.InvalidInput("level", "must be an integer"))
		return
	}

	roles, err := h.resolver.ApproverRoles(r.Context(), projectID, level)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"level":      level,
		"roles":      roles,
	})
}

// RecordDecision handles approve/reject decisions
func (h *HTTPHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.AppendDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid JSON"))
		return
	}

	outcome, err := h.tracker.RecordDecision(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, outcome)
}

// ListDecisions handles ledger history requests
func (h *HTTPHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requisitionID := r.URL.Query().Get("requisition_id")
	if requisitionID == "" {
		h.writeError(w, errors.InvalidInput("requisition_id", "is required"))
		return
	}

	decisions, err := h.ledger.History(r.Context(), requisitionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requisition_id": requisitionID,
		"decisions":      decisions,
	})
}

// ── Requisitions ──────────────────────────────────────────────────────────────

// CreateRequisition handles create requisition requests
func (h *HTTPHandler) CreateRequisition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateRequisitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid JSON"))
		return
	}

	requisition, err := h.tracker.CreateRequisition(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, requisition)
}

// GetRequisition handles get requisition requests
func (h *HTTPHandler) GetRequisition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "is required"))
		return
	}

	requisition, err := h.tracker.GetRequisition(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requisition)
}

// SubmitRequisition handles submit for approval requests
func (h *HTTPHandler) SubmitRequisition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID       string `json:"id"`
		ActorID  string `json:"actor_id"`
		Comments string `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid JSON"))
		return
	}
	if req.ID == "" {
		h.writeError(w, errors.InvalidInput("id", "is required"))
		return
	}

	requisition, state, err := h.tracker.Submit(r.Context(), req.ID, req.ActorID, req.Comments)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requisition": requisition,
		"state":       state,
	})
}

// AdvanceRequisition handles post-approval lifecycle transitions
func (h *HTTPHandler) AdvanceRequisition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID       string                       `json:"id"`
		Status   repository.RequisitionStatus `json:"status"`
		ActorID  string                       `json:"actor_id"`
		Comments string                       `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid JSON"))
		return
	}
	if req.ID == "" {
		h.writeError(w, errors.InvalidInput("id", "is required"))
		return
	}

	requisition, err := h.tracker.Advance(r.Context(), req.ID, req.Status, req.ActorID, req.Comments)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requisition)
}

// GetStatusHistory handles status audit trail requests
func (h *HTTPHandler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "is required"))
		return
	}

	entries, err := h.tracker.History(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requisition_id": id,
		"history":        entries,
	})
}

// ── Threshold matrix ──────────────────────────────────────────────────────────

// CreateBand handles threshold band creation
func (h *HTTPHandler) CreateBand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateBandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid JSON"))
		return
	}

	band, err := h.matrix.CreateBand(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, band)
}

// ListBands handles threshold band listing for a project
func (h *HTTPHandler) ListBands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	projectID := r.URL.Query().Get("project_id")
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))

	bands, err := h.matrix.ListBands(r.Context(), projectID, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"bands":      bands,
		"total":      len(bands),
	})
}

// GetBand handles get threshold band requests
func (h *HTTPHandler) GetBand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	band, err := h.matrix.GetBand(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, band)
}

func (h *HTTPHandler) setBandActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, errors.InvalidInput("body", "invalid JSON"))
			return
		}

		band, err := h.matrix.SetBandActive(r.Context(), req.ID, active)
		if err != nil {
			h.writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, band)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

type errorResponse struct {
	Code    errors.ErrorCode  `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	resp := errorResponse{
		Code:    errors.Code(err),
		Message: errors.Message(err),
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.Code != errors.ErrCodeInternal {
		resp.Details = appErr.Details
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
