// Package memory provides mutex-guarded in-memory implementations of the
// repository ports. It backs tests and the memory storage backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-procurement-approvals/internal/config"
	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
)

// Store holds every collection behind a single RWMutex.
type Store struct {
	mu           sync.RWMutex
	now          func() time.Time
	projects     map[string]repository.Project
	bands        map[string]repository.ThresholdBand
	requisitions map[string]repository.Requisition
	decisions    map[string][]repository.ApprovalDecision
	history      map[string][]repository.StatusHistoryEntry
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:          time.Now,
		projects:     map[string]repository.Project{},
		bands:        map[string]repository.ThresholdBand{},
		requisitions: map[string]repository.Requisition{},
		decisions:    map[string][]repository.ApprovalDecision{},
		history:      map[string][]repository.StatusHistoryEntry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Projects is the ProjectRegistry view of the store.
type Projects struct{ *Store }

// Bands is the threshold matrix view of the store.
type Bands struct{ *Store }

// Requisitions is the requisition view of the store.
type Requisitions struct{ *Store }

// Decisions is the approval ledger view of the store.
type Decisions struct{ *Store }

// History is the status audit view of the store.
type History struct{ *Store }

func (s *Store) Projects() Projects         { return Projects{s} }
func (s *Store) Bands() Bands               { return Bands{s} }
func (s *Store) Requisitions() Requisitions { return Requisitions{s} }
func (s *Store) Decisions() Decisions       { return Decisions{s} }
func (s *Store) History() History           { return History{s} }

// Load registers the projects and bands of a seed.
func (s *Store) Load(ctx context.Context, seed *config.Seed) error {
	for _, p := range seed.Projects {
		if err := s.Projects().Create(ctx, &repository.Project{ID: p.ID, Name: p.Name, IsActive: !p.Inactive}); err != nil {
			return err
		}
	}
	for i, b := range seed.Bands {
		min, err := b.Min()
		if err != nil {
			return fmt.Errorf("bands[%d]: %w", i, err)
		}
		max, err := b.Max()
		if err != nil {
			return fmt.Errorf("bands[%d]: %w", i, err)
		}
		band := &repository.ThresholdBand{
			ProjectID:     b.ProjectID,
			ApprovalLevel: b.ApprovalLevel,
			ThresholdMin:  min,
			ThresholdMax:  max,
			ApproverRole:  b.ApproverRole,
			IsActive:      !b.Inactive,
		}
		if err := s.Bands().Create(ctx, band); err != nil {
			return fmt.Errorf("bands[%d]: %w", i, err)
		}
	}
	return nil
}

// ── projects ─────────────────────────────────────────────────────────────────

// Create registers or replaces a project.
func (s Projects) Create(_ context.Context, p *repository.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.projects[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = s.now()
	}
	s.projects[p.ID] = *p
	return nil
}

// Exists reports whether projectID is registered.
func (s Projects) Exists(_ context.Context, projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.projects[projectID]
	return ok, nil
}

// ── threshold bands ──────────────────────────────────────────────────────────

// Create inserts a band.
func (s Bands) Create(_ context.Context, band *repository.ThresholdBand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bands {
		if b.ProjectID == band.ProjectID && b.ApprovalLevel == band.ApprovalLevel && b.ApproverRole == band.ApproverRole {
			return errors.Conflict("a band for this project, level and role already exists")
		}
	}

	if band.ID == "" {
		band.ID = uuid.NewString()
	}
	now := s.now()
	band.CreatedAt, band.UpdatedAt = now, now
	s.bands[band.ID] = *band
	return nil
}

// GetByID retrieves a band by id.
func (s Bands) GetByID(_ context.Context, id string) (*repository.ThresholdBand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bands[id]
	if !ok {
		return nil, errors.NotFound("threshold_band", id)
	}
	return &b, nil
}

// List returns a project's bands sorted by level then role.
func (s Bands) List(_ context.Context, projectID string, activeOnly bool) ([]repository.ThresholdBand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bands := []repository.ThresholdBand{}
	for _, b := range s.bands {
		if b.ProjectID != projectID || (activeOnly && !b.IsActive) {
			continue
		}
		bands = append(bands, b)
	}
	sort.Slice(bands, func(i, j int) bool {
		if bands[i].ApprovalLevel != bands[j].ApprovalLevel {
			return bands[i].ApprovalLevel < bands[j].ApprovalLevel
		}
		return bands[i].ApproverRole < bands[j].ApproverRole
	})
	return bands, nil
}

// Lookup returns a project's active bands sorted by level.
func (s Bands) Lookup(ctx context.Context, projectID string) ([]repository.ThresholdBand, error) {
	return s.List(ctx, projectID, true)
}

// SetActive enables or soft-disables a band.
func (s Bands) SetActive(_ context.Context, id string, active bool) (*repository.ThresholdBand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bands[id]
	if !ok {
		return nil, errors.NotFound("threshold_band", id)
	}
	b.IsActive = active
	b.UpdatedAt = s.now()
	s.bands[id] = b
	return &b, nil
}

// ── requisitions ─────────────────────────────────────────────────────────────

// Create inserts a requisition.
func (s Requisitions) Create(_ context.Context, req *repository.Requisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, ok := s.requisitions[req.ID]; ok {
		return errors.Conflict("requisition already exists").WithDetail("requisition_id", req.ID)
	}
	if req.Version == 0 {
		req.Version = 1
	}
	now := s.now()
	req.CreatedAt, req.UpdatedAt = now, now
	s.requisitions[req.ID] = *req
	return nil
}

// GetByID retrieves a requisition.
func (s Requisitions) GetByID(_ context.Context, id string) (*repository.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requisitions[id]
	if !ok {
		return nil, errors.NotFound("requisition", id)
	}
	return &req, nil
}

// GetApprovalView returns a copy of the requisition's value and ledger.
func (s Requisitions) GetApprovalView(_ context.Context, id string) (*repository.RequisitionApprovalView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requisitions[id]
	if !ok {
		return nil, errors.NotFound("requisition", id)
	}
	decisions := make([]repository.ApprovalDecision, len(s.decisions[id]))
	copy(decisions, s.decisions[id])

	return &repository.RequisitionApprovalView{
		RequisitionID: req.ID,
		ProjectID:     req.ProjectID,
		TotalValue:    req.TotalValue,
		Currency:      req.Currency,
		Decisions:     decisions,
	}, nil
}

// UpdateStatus performs a compare-and-set on status and version.
func (s Requisitions) UpdateStatus(
	_ context.Context,
	id string,
	from repository.RequisitionStatus,
	expectedVersion int,
	to repository.RequisitionStatus,
) (*repository.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requisitions[id]
	if !ok {
		return nil, errors.NotFound("requisition", id)
	}
	if req.Status != from || req.Version != expectedVersion {
		return nil, errors.Conflict("requisition was modified concurrently").WithDetail("requisition_id", id)
	}
	req.Status = to
	req.Version++
	req.UpdatedAt = s.now()
	s.requisitions[id] = req
	return &req, nil
}

// ── decisions ────────────────────────────────────────────────────────────────

// Append adds a ledger entry, rejecting a second approval of a level.
func (s Decisions) Append(_ context.Context, d *repository.ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requisitions[d.RequisitionID]; !ok {
		return errors.NotFound("requisition", d.RequisitionID)
	}
	return s.appendLocked(d)
}

// appendLocked requires s.mu held for writing.
func (s Decisions) appendLocked(d *repository.ApprovalDecision) error {
	log := s.decisions[d.RequisitionID]
	if d.Status == repository.DecisionApproved {
		for _, existing := range log {
			if existing.Status == repository.DecisionApproved && existing.ApprovalLevel == d.ApprovalLevel {
				return errors.Conflict(fmt.Sprintf("level %d is already approved", d.ApprovalLevel)).
					WithDetail("requisition_id", d.RequisitionID)
			}
		}
	}

	d.Sequence = len(log) + 1
	s.decisions[d.RequisitionID] = append(log, *d)
	return nil
}

// Record appends a decision to a requisition that is pending approval and
// applies the status chosen by resolve under one lock hold.
func (s Decisions) Record(_ context.Context, d *repository.ApprovalDecision, resolve repository.StatusResolver) (*repository.RecordedDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requisitions[d.RequisitionID]
	if !ok {
		return nil, errors.NotFound("requisition", d.RequisitionID)
	}
	if req.Status != repository.StatusPendingApproval {
		return nil, repository.NotPendingApproval(&req)
	}
	if err := s.appendLocked(d); err != nil {
		return nil, err
	}

	ledger := make([]repository.ApprovalDecision, len(s.decisions[d.RequisitionID]))
	copy(ledger, s.decisions[d.RequisitionID])
	out := &repository.RecordedDecision{Decision: d, Ledger: ledger, Previous: req.Status}

	locked := req
	if next := resolve(&locked, ledger); next != req.Status {
		req.Status = next
		req.Version++
		req.UpdatedAt = s.now()
		s.requisitions[req.ID] = req
	}
	out.Requisition = &req
	return out, nil
}

// ListByRequisition returns a copy of the requisition's ledger.
func (s Decisions) ListByRequisition(_ context.Context, requisitionID string) ([]repository.ApprovalDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]repository.ApprovalDecision, len(s.decisions[requisitionID]))
	copy(out, s.decisions[requisitionID])
	return out, nil
}

// ── status history ───────────────────────────────────────────────────────────

// Append adds a status audit entry.
func (s History) Append(_ context.Context, entry *repository.StatusHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.PerformedAt = s.now()
	s.history[entry.RequisitionID] = append(s.history[entry.RequisitionID], *entry)
	return nil
}

// ListByRequisition returns a requisition's audit trail, oldest first.
func (s History) ListByRequisition(_ context.Context, requisitionID string) ([]repository.StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]repository.StatusHistoryEntry, len(s.history[requisitionID]))
	copy(out, s.history[requisitionID])
	return out, nil
}
