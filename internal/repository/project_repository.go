package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement-approvals/internal/database"
	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
)

// ProjectRepository is the local project registry backed by the projects table.
type ProjectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *database.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create registers a project. Re-registering an existing id updates its name
// and active flag.
func (r *ProjectRepository) Create(ctx context.Context, p *Project) error {
	query := `
		INSERT INTO projects (id, name, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		    SET name = EXCLUDED.name, is_active = EXCLUDED.is_active
		RETURNING created_at
	`
	if err := r.db.QueryRow(ctx, query, p.ID, p.Name, p.IsActive).Scan(&p.CreatedAt); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create project")
	}
	return nil
}

// Exists reports whether projectID is registered.
func (r *ProjectRepository) Exists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, projectID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check project")
	}
	return exists, nil
}

// GetByID retrieves a project.
func (r *ProjectRepository) GetByID(ctx context.Context, projectID string) (*Project, error) {
	p := &Project{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, is_active, created_at FROM projects WHERE id = $1`, projectID,
	).Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("project", projectID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get project")
	}
	return p, nil
}
