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

type decisionRepository struct {
	BaseRepository
}

func NewDecisionRepository(base BaseRepository) repository.DecisionRepository {
	return &decisionRepository{base}
}

func (r *decisionRepository) Create(ctx context.Context, decision *model.AccessDecision) error {
	query := `
        INSERT INTO access_decisions (
            id, principal_id, tenant_id, resource_type, resource_id, action,
            verdict, reason, matched_rule_ids, context_snapshot, evaluated_at,
            created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `

	_, err := r.GetDB().ExecContext(ctx, query,
		decision.ID,
		decision.PrincipalID,
		decision.TenantID,
		decision.ResourceType,
		decision.ResourceID,
		decision.Action,
		decision.Verdict,
		decision.Reason,
		decision.MatchedRuleIDs,
		decision.Context,
		decision.EvaluatedAt,
		decision.CreatedAt,
		decision.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create access decision: %w", err)
	}
	return nil
}

func (r *decisionRepository) Get(ctx context.Context, id uuid.UUID) (*model.AccessDecision, error) {
	query := `SELECT * FROM access_decisions WHERE id = $1`

	var decision model.AccessDecision
	if err := r.GetDB().GetContext(ctx, &decision, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get access decision: %w", err)
	}

	return &decision, nil
}

func (r *decisionRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM access_decisions WHERE evaluated_at < $1`

	result, err := r.GetDB().ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old access decisions: %w", err)
	}

	return result.RowsAffected()
}
