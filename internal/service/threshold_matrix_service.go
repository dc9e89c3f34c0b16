package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
	"github.com/pesio-ai/be-procurement-approvals/internal/logger"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
)

// CreateBandRequest configures one approval band for a project.
type CreateBandRequest struct {
	ProjectID     string          `json:"project_id"`
	ApprovalLevel int             `json:"approval_level"`
	ThresholdMin  decimal.Decimal `json:"threshold_min"`
	ThresholdMax  decimal.Decimal `json:"threshold_max"`
	ApproverRole  string          `json:"approver_role"`
}

// ThresholdMatrixService manages the admin-owned threshold matrix. It checks
// each band on its own; overlaps and gaps between bands are allowed.
type ThresholdMatrixService struct {
	bands    ThresholdBandStore
	projects ProjectRegistry
	log      *logger.Logger
}

// NewThresholdMatrixService creates a new ThresholdMatrixService.
func NewThresholdMatrixService(bands ThresholdBandStore, projects ProjectRegistry, log *logger.Logger) *ThresholdMatrixService {
	return &ThresholdMatrixService{
		bands:    bands,
		projects: projects,
		log:      log.WithComponent("threshold_matrix"),
	}
}

// CreateBand validates and stores an active band.
func (s *ThresholdMatrixService) CreateBand(ctx context.Context, req CreateBandRequest) (*repository.ThresholdBand, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, errors.InvalidInput("project_id", "is required")
	}
	if req.ApprovalLevel < 1 {
		return nil, errors.InvalidInput("approval_level", "must be >= 1")
	}
	if req.ThresholdMin.IsNegative() {
		return nil, errors.InvalidInput("threshold_min", "must not be negative")
	}
	if !req.ThresholdMin.LessThan(req.ThresholdMax) {
		return nil, errors.InvalidInput("threshold_max", "must be greater than threshold_min")
	}
	role := strings.TrimSpace(req.ApproverRole)
	if role == "" {
		return nil, errors.InvalidInput("approver_role", "is required")
	}

	if err := s.requireProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	band := &repository.ThresholdBand{
		ProjectID:     req.ProjectID,
		ApprovalLevel: req.ApprovalLevel,
		ThresholdMin:  req.ThresholdMin,
		ThresholdMax:  req.ThresholdMax,
		ApproverRole:  role,
		IsActive:      true,
	}
	if err := s.bands.Create(ctx, band); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("band_id", band.ID).
		Str("project_id", band.ProjectID).
		Int("level", band.ApprovalLevel).
		Str("role", band.ApproverRole).
		Msg("Threshold band created")

	return band, nil
}

// ListBands returns a project's bands ordered by level.
func (s *ThresholdMatrixService) ListBands(ctx context.Context, projectID string, activeOnly bool) ([]repository.ThresholdBand, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.bands.List(ctx, projectID, activeOnly)
}

// GetBand returns a band by id.
func (s *ThresholdMatrixService) GetBand(ctx context.Context, id string) (*repository.ThresholdBand, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.InvalidInput("id", "is required")
	}
	return s.bands.GetByID(ctx, id)
}

// SetBandActive enables or soft-disables a band.
func (s *ThresholdMatrixService) SetBandActive(ctx context.Context, id string, active bool) (*repository.ThresholdBand, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.InvalidInput("id", "is required")
	}
	band, err := s.bands.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("band_id", band.ID).
		Bool("active", band.IsActive).
		Msg("Threshold band activation changed")

	return band, nil
}

func (s *ThresholdMatrixService) requireProject(ctx context.Context, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return errors.InvalidInput("project_id", "is required")
	}
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.UnknownProject(projectID)
	}
	return nil
}
