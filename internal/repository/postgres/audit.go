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

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

// Append inserts one chain link. The (tenant_id, sequence) unique index is
// the last line of defense against two writers extending the same chain.
func (r *auditRepository) Append(ctx context.Context, event *model.AuditEvent) error {
	query := `
        INSERT INTO audit_events (
            id, tenant_id, sequence, timestamp, actor_id, actor_role, action,
            resource_type, resource_id, decision_ref, verdict, reason,
            justification, metadata, hash_prev, hash_self
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
    `

	_, err := r.GetDB().ExecContext(ctx, query,
		event.ID,
		event.TenantID,
		event.Sequence,
		event.Timestamp,
		event.ActorID,
		event.ActorRole,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		event.DecisionRef,
		event.Verdict,
		event.Reason,
		event.Justification,
		event.Metadata,
		event.HashPrev,
		event.HashSelf,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *auditRepository) Last(ctx context.Context, tenantID uuid.UUID) (*model.AuditEvent, error) {
	query := `
        SELECT * FROM audit_events
        WHERE tenant_id = $1
        ORDER BY sequence DESC
        LIMIT 1
    `

	var event model.AuditEvent
	if err := r.GetDB().GetContext(ctx, &event, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last audit event: %w", err)
	}

	return &event, nil
}

func (r *auditRepository) List(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	baseQuery := `FROM audit_events WHERE tenant_id = $1`
	args := []interface{}{filters.TenantID}

	if filters.ActorID != nil {
		args = append(args, *filters.ActorID)
		baseQuery += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if filters.ActorRole != "" {
		args = append(args, filters.ActorRole)
		baseQuery += fmt.Sprintf(" AND actor_role = $%d", len(args))
	}
	if filters.Action != "" {
		args = append(args, filters.Action)
		baseQuery += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filters.ResourceType != "" {
		args = append(args, filters.ResourceType)
		baseQuery += fmt.Sprintf(" AND resource_type = $%d", len(args))
	}
	if filters.ResourceID != nil {
		args = append(args, *filters.ResourceID)
		baseQuery += fmt.Sprintf(" AND resource_id = $%d", len(args))
	}
	if filters.From != nil {
		args = append(args, *filters.From)
		baseQuery += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if filters.To != nil {
		args = append(args, *filters.To)
		baseQuery += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}

	countQuery := "SELECT COUNT(*) " + baseQuery
	var total int64
	if err := r.GetDB().GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	page := filters.Pagination.Normalize()
	args = append(args, page.PageSize, page.Offset())
	query := "SELECT * " + baseQuery + fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var events []*model.AuditEvent
	if err := r.GetDB().SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit events: %w", err)
	}

	return events, total, nil
}

func (r *auditRepository) Chain(ctx context.Context, tenantID uuid.UUID, fromSequence int64, limit int) ([]*model.AuditEvent, error) {
	query := `
        SELECT * FROM audit_events
        WHERE tenant_id = $1 AND sequence >= $2
        ORDER BY sequence ASC
        LIMIT $3
    `

	var events []*model.AuditEvent
	if err := r.GetDB().SelectContext(ctx, &events, query, tenantID, fromSequence, limit); err != nil {
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}

	return events, nil
}

func (r *auditRepository) Tenants(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT DISTINCT tenant_id FROM audit_events`

	var tenants []uuid.UUID
	if err := r.GetDB().SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("failed to list audit tenants: %w", err)
	}

	return tenants, nil
}
