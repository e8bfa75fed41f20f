package attribute

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

// ConsentReader is the read side of the consent registry.
type ConsentReader interface {
	Snapshot(ctx context.Context, patientID uuid.UUID) (model.ConsentSnapshot, error)
}

type Config struct {
	WorkdayStartHour int
	WorkdayEndHour   int
	CacheTTL         time.Duration
	CacheCleanup     time.Duration
}

func DefaultConfig() Config {
	return Config{
		WorkdayStartHour: 7,
		WorkdayEndHour:   19,
		CacheTTL:         30 * time.Second,
		CacheCleanup:     5 * time.Minute,
	}
}

// Resolver assembles the decision context for one request. Resource
// attributes are cached briefly; consent is read fresh on every call so a
// revocation takes effect on the next decision.
type Resolver struct {
	resources repository.ResourceDirectoryRepository
	consents  ConsentReader
	cache     *cache.Cache
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

func NewResolver(resources repository.ResourceDirectoryRepository, consents ConsentReader, cfg Config, logger zerolog.Logger) *Resolver {
	return &Resolver{
		resources: resources,
		consents:  consents,
		cache:     cache.New(cfg.CacheTTL, cfg.CacheCleanup),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve builds the attribute context. Any resolution failure fails
// closed: a missing resource and a cross-tenant reference both come back
// as a NOT_FOUND error, which the caller turns into an ordinary denial so
// the response is indistinguishable from a policy deny.
func (r *Resolver) Resolve(ctx context.Context, claims *model.PrincipalClaims, ref model.ResourceRef, action string, tenantID uuid.UUID) (*model.AttributeContext, error) {
	attrs, err := r.resourceAttributes(ctx, ref)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to resolve resource %s: %w", ref, err))
	}
	if attrs == nil {
		return nil, apperrors.NotFound("resource", nil)
	}
	if attrs.TenantID != tenantID {
		// Cross-tenant reference. Same error as absent on purpose.
		return nil, apperrors.NotFound("resource", nil)
	}

	snapshot, err := r.consents.Snapshot(ctx, attrs.PatientID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to resolve consent for patient %s: %w", attrs.PatientID, err))
	}

	now := r.now().UTC()
	return &model.AttributeContext{
		TenantID: tenantID,
		Action:   action,
		Principal: model.PrincipalAttributes{
			ID:        claims.PrincipalID,
			TenantID:  claims.TenantID,
			Role:      claims.Role,
			Service:   claims.Service,
			CareTeams: claims.CareTeams,
			OnDuty:    claims.OnDuty,
		},
		Resource: *attrs,
		Consent:  snapshot,
		Env: model.EnvironmentAttributes{
			Time:      now,
			WorkHours: now.Hour() >= r.cfg.WorkdayStartHour && now.Hour() < r.cfg.WorkdayEndHour,
		},
	}, nil
}

func (r *Resolver) resourceAttributes(ctx context.Context, ref model.ResourceRef) (*model.ResourceAttributes, error) {
	key := ref.String()
	if cached, ok := r.cache.Get(key); ok {
		return cached.(*model.ResourceAttributes), nil
	}

	attrs, err := r.resources.GetAttributes(ctx, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	if attrs != nil {
		r.cache.Set(key, attrs, cache.DefaultExpiration)
	}
	return attrs, nil
}
