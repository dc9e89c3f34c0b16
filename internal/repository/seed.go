package repository

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-procurement-approvals/internal/config"
	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
)

// ApplySeed upserts the seed's projects and inserts its bands. Bands that
// already exist are left untouched, so applying the same seed on every start
// is safe.
func ApplySeed(ctx context.Context, projects *ProjectRepository, bands *ThresholdBandRepository, seed *config.Seed) (int, error) {
	for _, p := range seed.Projects {
		if err := projects.Create(ctx, &Project{ID: p.ID, Name: p.Name, IsActive: !p.Inactive}); err != nil {
			return 0, err
		}
	}

	created := 0
	for i, b := range seed.Bands {
		min, err := b.Min()
		if err != nil {
			return created, fmt.Errorf("bands[%d]: %w", i, err)
		}
		max, err := b.Max()
		if err != nil {
			return created, fmt.Errorf("bands[%d]: %w", i, err)
		}
		band := &ThresholdBand{
			ProjectID:     b.ProjectID,
			ApprovalLevel: b.ApprovalLevel,
			ThresholdMin:  min,
			ThresholdMax:  max,
			ApproverRole:  b.ApproverRole,
			IsActive:      !b.Inactive,
		}
		if err := bands.Create(ctx, band); err != nil {
			if errors.Is(err, errors.ErrCodeConflict) {
				continue
			}
			return created, fmt.Errorf("bands[%d]: %w", i, err)
		}
		created++
	}
	return created, nil
}
