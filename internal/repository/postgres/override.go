package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
)

type overrideRepository struct {
	BaseRepository
}

func NewOverrideRepository(base BaseRepository) repository.OverrideRepository {
	return &overrideRepository{base}
}

func (r *overrideRepository) Create(ctx context.Context, grant *model.EmergencyOverrideGrant) error {
	query := `
        INSERT INTO override_grants (
            id, principal_id, principal_role, tenant_id, resource_type, resource_id,
            justification, granted_at, expires_at, status, review_status,
            renewal_count, version, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `

	_, err := r.GetDB().ExecContext(ctx, query,
		grant.ID,
		grant.PrincipalID,
		grant.PrincipalRole,
		grant.TenantID,
		grant.ResourceType,
		grant.ResourceID,
		grant.Justification,
		grant.GrantedAt,
		grant.ExpiresAt,
		grant.Status,
		grant.ReviewStatus,
		grant.RenewalCount,
		grant.Version,
		grant.CreatedAt,
		grant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create override grant: %w", err)
	}
	return nil
}

func (r *overrideRepository) Get(ctx context.Context, id uuid.UUID) (*model.EmergencyOverrideGrant, error) {
	query := `SELECT * FROM override_grants WHERE id = $1`

	var grant model.EmergencyOverrideGrant
	if err := r.GetDB().GetContext(ctx, &grant, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get override grant: %w", err)
	}

	return &grant, nil
}

func (r *overrideRepository) GetActive(ctx context.Context, principalID uuid.UUID, resourceType string, resourceID uuid.UUID) (*model.EmergencyOverrideGrant, error) {
	query := `
        SELECT * FROM override_grants
        WHERE principal_id = $1 AND resource_type = $2 AND resource_id = $3
          AND status = $4
        ORDER BY granted_at DESC
        LIMIT 1
    `

	var grant model.EmergencyOverrideGrant
	err := r.GetDB().GetContext(ctx, &grant, query, principalID, resourceType, resourceID, model.OverrideActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active override grant: %w", err)
	}

	return &grant, nil
}

func (r *overrideRepository) Renew(ctx context.Context, id uuid.UUID, version int, expiresAt time.Time) error {
	query := `
        UPDATE override_grants
        SET expires_at = $3, renewal_count = renewal_count + 1,
            version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $2 AND status = $4
    `

	result, err := r.GetDB().ExecContext(ctx, query, id, version, expiresAt, model.OverrideActive)
	if err != nil {
		return fmt.Errorf("failed to renew override grant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

func (r *overrideRepository) MarkExpired(ctx context.Context, id uuid.UUID, version int) error {
	query := `
        UPDATE override_grants
        SET status = $3, version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $2 AND status = $4
    `

	result, err := r.GetDB().ExecContext(ctx, query, id, version, model.OverrideExpired, model.OverrideActive)
	if err != nil {
		return fmt.Errorf("failed to mark override expired: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

func (r *overrideRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
        UPDATE override_grants
        SET status = $2, version = version + 1, updated_at = NOW()
        WHERE status = $1 AND expires_at < $3
    `

	result, err := r.GetDB().ExecContext(ctx, query, model.OverrideActive, model.OverrideExpired, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired overrides: %w", err)
	}

	return result.RowsAffected()
}

func (r *overrideRepository) Review(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, status model.ReviewStatus, notes string, reviewedAt time.Time) error {
	query := `
        UPDATE override_grants
        SET review_status = $2, reviewer_id = $3, review_notes = $4,
            reviewed_at = $5, version = version + 1, updated_at = NOW()
        WHERE id = $1 AND review_status = $6
    `

	result, err := r.GetDB().ExecContext(ctx, query, id, status, reviewerID, notes, reviewedAt, model.ReviewPending)
	if err != nil {
		return fmt.Errorf("failed to review override grant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

func (r *overrideRepository) CountRejectedSince(ctx context.Context, principalID uuid.UUID, since time.Time) (int, error) {
	query := `
        SELECT COUNT(*) FROM override_grants
        WHERE principal_id = $1 AND review_status = $2 AND reviewed_at >= $3
    `

	var count int
	if err := r.GetDB().GetContext(ctx, &count, query, principalID, model.ReviewRejected, since); err != nil {
		return 0, fmt.Errorf("failed to count rejected overrides: %w", err)
	}

	return count, nil
}
