package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-procurement-approvals/internal/database"
	"github.com/pesio-ai/be-procurement-approvals/internal/errors"
)

// StatusHistoryRepository appends and reads immutable status audit entries.
type StatusHistoryRepository struct {
	db *database.DB
}

// NewStatusHistoryRepository creates a new StatusHistoryRepository.
func NewStatusHistoryRepository(db *database.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: db}
}

// Append inserts one audit entry.
func (r *StatusHistoryRepository) Append(ctx context.Context, entry *StatusHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO requisition_status_history
		    (id, requisition_id, status_before, status_after,
		     actor_id, comments, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING performed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.RequisitionID,
		entry.StatusBefore,
		entry.StatusAfter,
		entry.ActorID,
		entry.Comments,
		metadataJSON,
	).Scan(&entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append status history")
	}
	return nil
}

// ListByRequisition returns the audit trail for a requisition, oldest first.
func (r *StatusHistoryRepository) ListByRequisition(ctx context.Context, requisitionID string) ([]StatusHistoryEntry, error) {
	if !isUUID(requisitionID) {
		return []StatusHistoryEntry{}, nil
	}
	query := `
		SELECT id, requisition_id, status_before, status_after,
		       actor_id, comments, metadata, performed_at
		FROM requisition_status_history
		WHERE requisition_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, requisitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get status history")
	}
	defer rows.Close()

	entries := []StatusHistoryEntry{}
	for rows.Next() {
		var e StatusHistoryEntry
		var metadataJSON []byte
		err := rows.Scan(
			&e.ID,
			&e.RequisitionID,
			&e.StatusBefore,
			&e.StatusAfter,
			&e.ActorID,
			&e.Comments,
			&metadataJSON,
			&e.PerformedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan status history")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get status history")
	}
	return entries, nil
}
