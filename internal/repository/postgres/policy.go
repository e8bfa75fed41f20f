package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
)

type policyRepository struct {
	BaseRepository
}

func NewPolicyRepository(base BaseRepository) repository.PolicyRepository {
	return &policyRepository{base}
}

func (r *policyRepository) ListRules(ctx context.Context) ([]*model.PolicyRule, error) {
	query := `
        SELECT id, resource_type, action, role, condition, effect, description, position,
               created_at, updated_at
        FROM policy_rules
        ORDER BY position ASC
    `

	var rules []*model.PolicyRule
	if err := r.GetDB().SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("failed to list policy rules: %w", err)
	}

	return rules, nil
}

func (r *policyRepository) ListRoleInheritance(ctx context.Context) ([]*model.RoleInheritance, error) {
	query := `SELECT role, parent FROM role_inheritance`

	var edges []*model.RoleInheritance
	if err := r.GetDB().SelectContext(ctx, &edges, query); err != nil {
		return nil, fmt.Errorf("failed to list role inheritance: %w", err)
	}

	return edges, nil
}

func (r *policyRepository) ListConsentRequirements(ctx context.Context) ([]*model.ConsentRequirement, error) {
	query := `SELECT resource_type, action, scope FROM consent_requirements`

	var reqs []*model.ConsentRequirement
	if err := r.GetDB().SelectContext(ctx, &reqs, query); err != nil {
		return nil, fmt.Errorf("failed to list consent requirements: %w", err)
	}

	return reqs, nil
}

func (r *policyRepository) CurrentVersion(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM policy_versions`

	var version int64
	if err := r.GetDB().GetContext(ctx, &version, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get policy version: %w", err)
	}

	return version, nil
}
