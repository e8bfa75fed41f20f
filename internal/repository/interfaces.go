package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/authz-api/internal/model"
)

// ErrVersionConflict is returned when an optimistic update loses the race.
var ErrVersionConflict = errors.New("version conflict")

// All repository interfaces in one file
type (
	// PolicyRepository loads the admin-managed rule configuration. The
	// evaluator never reads these tables directly; a snapshot is built
	// from them and swapped in atomically.
	PolicyRepository interface {
		ListRules(ctx context.Context) ([]*model.PolicyRule, error)
		ListRoleInheritance(ctx context.Context) ([]*model.RoleInheritance, error)
		ListConsentRequirements(ctx context.Context) ([]*model.ConsentRequirement, error)
		CurrentVersion(ctx context.Context) (int64, error)
	}

	// ConsentRepository persists append-only consent history.
	ConsentRepository interface {
		GetCurrent(ctx context.Context, patientID uuid.UUID, scope model.ConsentScope) (*model.ConsentRecord, error)
		ListCurrent(ctx context.Context, patientID uuid.UUID) ([]*model.ConsentRecord, error)
		History(ctx context.Context, patientID uuid.UUID, scope model.ConsentScope) ([]*model.ConsentRecord, error)
		Append(ctx context.Context, record *model.ConsentRecord) error
	}

	// OverrideRepository persists break-the-glass grants. Renew and
	// MarkExpired use the version column for optimistic CAS.
	OverrideRepository interface {
		Create(ctx context.Context, grant *model.EmergencyOverrideGrant) error
		Get(ctx context.Context, id uuid.UUID) (*model.EmergencyOverrideGrant, error)
		GetActive(ctx context.Context, principalID uuid.UUID, resourceType string, resourceID uuid.UUID) (*model.EmergencyOverrideGrant, error)
		Renew(ctx context.Context, id uuid.UUID, version int, expiresAt time.Time) error
		MarkExpired(ctx context.Context, id uuid.UUID, version int) error
		SweepExpired(ctx context.Context, now time.Time) (int64, error)
		Review(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, status model.ReviewStatus, notes string, reviewedAt time.Time) error
		CountRejectedSince(ctx context.Context, principalID uuid.UUID, since time.Time) (int, error)
	}

	// DecisionRepository persists immutable access decisions.
	DecisionRepository interface {
		Create(ctx context.Context, decision *model.AccessDecision) error
		Get(ctx context.Context, id uuid.UUID) (*model.AccessDecision, error)
		DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	// AuditRepository persists the append-only hash chain. Append must
	// reject sequence collisions so a racing writer cannot fork a chain.
	AuditRepository interface {
		Append(ctx context.Context, event *model.AuditEvent) error
		Last(ctx context.Context, tenantID uuid.UUID) (*model.AuditEvent, error)
		List(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error)
		Chain(ctx context.Context, tenantID uuid.UUID, fromSequence int64, limit int) ([]*model.AuditEvent, error)
		Tenants(ctx context.Context) ([]uuid.UUID, error)
	}

	// ResourceDirectoryRepository resolves the authorization-relevant
	// attributes of a resource. Clinical content lives elsewhere.
	ResourceDirectoryRepository interface {
		GetAttributes(ctx context.Context, resourceType string, id uuid.UUID) (*model.ResourceAttributes, error)
	}
)
