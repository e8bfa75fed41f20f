package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
)

type resourceDirectoryRepository struct {
	BaseRepository
}

func NewResourceDirectoryRepository(base BaseRepository) repository.ResourceDirectoryRepository {
	return &resourceDirectoryRepository{base}
}

func (r *resourceDirectoryRepository) GetAttributes(ctx context.Context, resourceType string, id uuid.UUID) (*model.ResourceAttributes, error) {
	query := `
        SELECT id, resource_type, tenant_id, patient_id, assigned_service,
               encounter_status, created_at, updated_at
        FROM resource_directory
        WHERE resource_type = $1 AND id = $2
    `

	var attrs model.ResourceAttributes
	if err := r.GetDB().GetContext(ctx, &attrs, query, resourceType, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resource attributes: %w", err)
	}

	teamQuery := `SELECT care_team_id FROM resource_care_teams WHERE resource_id = $1`
	if err := r.GetDB().SelectContext(ctx, &attrs.CareTeamIDs, teamQuery, id); err != nil {
		return nil, fmt.Errorf("failed to get resource care teams: %w", err)
	}

	return &attrs, nil
}
