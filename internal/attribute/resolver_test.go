package attribute

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/authz-api/internal/model"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type fakeResourceRepo struct {
	mu    sync.Mutex
	attrs map[string]*model.ResourceAttributes
	calls int
}

func newFakeResourceRepo() *fakeResourceRepo {
	return &fakeResourceRepo{attrs: make(map[string]*model.ResourceAttributes)}
}

func (r *fakeResourceRepo) put(a *model.ResourceAttributes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs[a.ResourceType+"|"+a.ID.String()] = a
}

func (r *fakeResourceRepo) GetAttributes(ctx context.Context, resourceType string, id uuid.UUID) (*model.ResourceAttributes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.attrs[resourceType+"|"+id.String()], nil
}

type fakeConsentReader struct {
	mu    sync.Mutex
	snap  model.ConsentSnapshot
	calls int
}

func (r *fakeConsentReader) Snapshot(ctx context.Context, patientID uuid.UUID) (model.ConsentSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.snap, nil
}

func newTestResolver() (*Resolver, *fakeResourceRepo, *fakeConsentReader) {
	resources := newFakeResourceRepo()
	consents := &fakeConsentReader{snap: model.ConsentSnapshot{}}
	return NewResolver(resources, consents, DefaultConfig(), zerolog.Nop()), resources, consents
}

func claims(tenantID uuid.UUID) *model.PrincipalClaims {
	return &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    tenantID,
		Role:        model.RoleDoctor,
		Service:     "cardiology",
		OnDuty:      true,
	}
}

func TestResolveMissingResourceIsNotFound(t *testing.T) {
	resolver, _, _ := newTestResolver()
	tenantID := uuid.New()

	_, err := resolver.Resolve(context.Background(), claims(tenantID), model.ResourceRef{Type: model.ResourceMedicalRecord, ID: uuid.New()}, "read", tenantID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestResolveCrossTenantIndistinguishableFromMissing(t *testing.T) {
	resolver, resources, _ := newTestResolver()
	tenantID := uuid.New()

	attrs := &model.ResourceAttributes{
		ResourceType: model.ResourceMedicalRecord,
		TenantID:     uuid.New(),
		PatientID:    uuid.New(),
	}
	attrs.ID = uuid.New()
	resources.put(attrs)

	_, foreignErr := resolver.Resolve(context.Background(), claims(tenantID), model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}, "read", tenantID)
	_, missingErr := resolver.Resolve(context.Background(), claims(tenantID), model.ResourceRef{Type: model.ResourceMedicalRecord, ID: uuid.New()}, "read", tenantID)

	require.Error(t, foreignErr)
	require.Error(t, missingErr)
	assert.Equal(t, missingErr.Error(), foreignErr.Error())
}

func TestResolveBuildsContext(t *testing.T) {
	resolver, resources, consents := newTestResolver()
	tenantID := uuid.New()
	teamID := uuid.New()

	attrs := &model.ResourceAttributes{
		ResourceType:    model.ResourceMedicalRecord,
		TenantID:        tenantID,
		PatientID:       uuid.New(),
		AssignedService: "cardiology",
		CareTeamIDs:     []uuid.UUID{teamID},
		EncounterStatus: model.EncounterOpen,
	}
	attrs.ID = uuid.New()
	resources.put(attrs)
	consents.snap = model.ConsentSnapshot{model.ScopeResearch: model.ConsentGiven}

	principal := claims(tenantID)
	principal.CareTeams = []uuid.UUID{teamID}

	resolver.now = func() time.Time {
		return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	}

	attrCtx, err := resolver.Resolve(context.Background(), principal, model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}, "read", tenantID)
	require.NoError(t, err)

	assert.True(t, attrCtx.Env.WorkHours)
	assert.True(t, attrCtx.OnCareTeam())

	flat := attrCtx.Flatten()
	assert.Equal(t, "doctor", flat["principal.role"])
	assert.Equal(t, "true", flat["same_service"])
	assert.Equal(t, "true", flat["principal.on_care_team"])
	assert.Equal(t, "open", flat["resource.encounter"])
	assert.Equal(t, "GIVEN", flat["consent.research"])
	assert.Equal(t, "14", flat["env.hour"])
}

func TestResolveOutsideWorkHours(t *testing.T) {
	resolver, resources, _ := newTestResolver()
	tenantID := uuid.New()

	attrs := &model.ResourceAttributes{
		ResourceType: model.ResourceMedicalRecord,
		TenantID:     tenantID,
		PatientID:    uuid.New(),
	}
	attrs.ID = uuid.New()
	resources.put(attrs)

	resolver.now = func() time.Time {
		return time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	}

	attrCtx, err := resolver.Resolve(context.Background(), claims(tenantID), model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}, "read", tenantID)
	require.NoError(t, err)
	assert.False(t, attrCtx.Env.WorkHours)
}

func TestResolveCachesResourceButNotConsent(t *testing.T) {
	resolver, resources, consents := newTestResolver()
	tenantID := uuid.New()

	attrs := &model.ResourceAttributes{
		ResourceType: model.ResourceMedicalRecord,
		TenantID:     tenantID,
		PatientID:    uuid.New(),
	}
	attrs.ID = uuid.New()
	resources.put(attrs)

	ref := model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}
	for i := 0; i < 3; i++ {
		_, err := resolver.Resolve(context.Background(), claims(tenantID), ref, "read", tenantID)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, resources.calls, "resource attributes should be served from cache")
	assert.Equal(t, 3, consents.calls, "consent must be read fresh on every decision")
}
