package authz

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/authz-api/internal/attribute"
	"github.com/jwalitptl/authz-api/internal/audit"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/override"
	"github.com/jwalitptl/authz-api/internal/policy"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type fakeResourceRepo struct {
	mu    sync.Mutex
	attrs map[string]*model.ResourceAttributes
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
	return r.attrs[resourceType+"|"+id.String()], nil
}

type fakeConsentReader struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]model.ConsentSnapshot
}

func newFakeConsentReader() *fakeConsentReader {
	return &fakeConsentReader{snapshots: make(map[uuid.UUID]model.ConsentSnapshot)}
}

func (r *fakeConsentReader) Snapshot(ctx context.Context, patientID uuid.UUID) (model.ConsentSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snap, ok := r.snapshots[patientID]; ok {
		return snap, nil
	}
	return model.ConsentSnapshot{}, nil
}

type fakeDecisionRepo struct {
	mu        sync.Mutex
	decisions []*model.AccessDecision
}

func (r *fakeDecisionRepo) Create(ctx context.Context, decision *model.AccessDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *decision
	r.decisions = append(r.decisions, &clone)
	return nil
}

func (r *fakeDecisionRepo) Get(ctx context.Context, id uuid.UUID) (*model.AccessDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.decisions {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (r *fakeDecisionRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeAuditRepo struct {
	mu     sync.Mutex
	events []*model.AuditEvent
	fail   bool
}

func (r *fakeAuditRepo) Append(ctx context.Context, event *model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("sink down")
	}
	clone := *event
	r.events = append(r.events, &clone)
	return nil
}

func (r *fakeAuditRepo) Last(ctx context.Context, tenantID uuid.UUID) (*model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].TenantID == tenantID {
			return r.events[i], nil
		}
	}
	return nil, nil
}

func (r *fakeAuditRepo) List(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AuditEvent
	for _, event := range r.events {
		if event.TenantID == filters.TenantID {
			out = append(out, event)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeAuditRepo) Chain(ctx context.Context, tenantID uuid.UUID, fromSequence int64, limit int) ([]*model.AuditEvent, error) {
	return nil, nil
}

func (r *fakeAuditRepo) Tenants(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, event := range r.events {
		out = append(out, event.Action)
	}
	return out
}

type fakeOverrideRepo struct {
	mu     sync.Mutex
	grants map[uuid.UUID]*model.EmergencyOverrideGrant
}

func newFakeOverrideRepo() *fakeOverrideRepo {
	return &fakeOverrideRepo{grants: make(map[uuid.UUID]*model.EmergencyOverrideGrant)}
}

func (r *fakeOverrideRepo) Create(ctx context.Context, grant *model.EmergencyOverrideGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *grant
	r.grants[grant.ID] = &clone
	return nil
}

func (r *fakeOverrideRepo) Get(ctx context.Context, id uuid.UUID) (*model.EmergencyOverrideGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	grant, ok := r.grants[id]
	if !ok {
		return nil, nil
	}
	clone := *grant
	return &clone, nil
}

func (r *fakeOverrideRepo) GetActive(ctx context.Context, principalID uuid.UUID, resourceType string, resourceID uuid.UUID) (*model.EmergencyOverrideGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, grant := range r.grants {
		if grant.PrincipalID == principalID && grant.ResourceType == resourceType &&
			grant.ResourceID == resourceID && grant.Status == model.OverrideActive {
			clone := *grant
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeOverrideRepo) Renew(ctx context.Context, id uuid.UUID, version int, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	grant := r.grants[id]
	grant.ExpiresAt = expiresAt
	grant.RenewalCount++
	grant.Version++
	return nil
}

func (r *fakeOverrideRepo) MarkExpired(ctx context.Context, id uuid.UUID, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[id].Status = model.OverrideExpired
	return nil
}

func (r *fakeOverrideRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOverrideRepo) Review(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID, status model.ReviewStatus, notes string, reviewedAt time.Time) error {
	return nil
}

func (r *fakeOverrideRepo) CountRejectedSince(ctx context.Context, principalID uuid.UUID, since time.Time) (int, error) {
	return 0, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	grants []*model.EmergencyOverrideGrant
}

func (n *fakeNotifier) NotifyOverride(ctx context.Context, grant *model.EmergencyOverrideGrant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.grants = append(n.grants, grant)
	return nil
}

type fixture struct {
	svc         *Service
	overrideSvc *override.Service
	resources   *fakeResourceRepo
	consents    *fakeConsentReader
	decisions   *fakeDecisionRepo
	auditRepo   *fakeAuditRepo
	notifier    *fakeNotifier
}

func newFixture(t *testing.T, rules []*model.PolicyRule, reqs []*model.ConsentRequirement) *fixture {
	t.Helper()

	snap, err := policy.Build(1, rules, nil, reqs)
	require.NoError(t, err)
	store := policy.NewStore(nil, zerolog.Nop())
	store.Set(snap)

	resources := newFakeResourceRepo()
	consents := newFakeConsentReader()
	resolver := attribute.NewResolver(resources, consents, attribute.DefaultConfig(), zerolog.Nop())

	auditRepo := &fakeAuditRepo{}
	auditor := audit.NewService(auditRepo, audit.DefaultConfig(), zerolog.Nop(), nil)

	notifier := &fakeNotifier{}
	overrideSvc := override.NewService(newFakeOverrideRepo(), auditor, notifier, override.DefaultConfig(), zerolog.Nop(), nil)

	decisions := &fakeDecisionRepo{}
	svc := NewService(store, resolver, overrideSvc, decisions, auditor, zerolog.Nop(), nil)

	return &fixture{
		svc:         svc,
		overrideSvc: overrideSvc,
		resources:   resources,
		consents:    consents,
		decisions:   decisions,
		auditRepo:   auditRepo,
		notifier:    notifier,
	}
}

func condRaw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func careTeamRule() *model.PolicyRule {
	r := &model.PolicyRule{
		ResourceType: model.ResourceMedicalRecord,
		Action:       "read",
		Role:         "doctor",
		Effect:       model.EffectAllow,
		Condition:    condRaw(`{"attr":"principal.on_care_team","op":"eq","value":"true"}`),
		Position:     1,
	}
	r.ID = uuid.New()
	return r
}

func TestEvaluateDeniedThenAllowedViaBreakTheGlass(t *testing.T) {
	fx := newFixture(t, []*model.PolicyRule{careTeamRule()}, nil)
	tenantID := uuid.New()

	claims := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    tenantID,
		Role:        model.RoleDoctor,
		Service:     "emergency",
		OnDuty:      true,
	}

	attrs := &model.ResourceAttributes{
		ResourceType:    model.ResourceMedicalRecord,
		TenantID:        tenantID,
		PatientID:       uuid.New(),
		AssignedService: "cardiology",
		CareTeamIDs:     []uuid.UUID{uuid.New()},
	}
	attrs.ID = uuid.New()
	fx.resources.put(attrs)

	ref := model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}

	// Off the care team: no rule matches.
	decision, err := fx.svc.Evaluate(context.Background(), claims, ref, "read")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDeny, decision.Verdict)
	assert.Equal(t, model.ReasonNoMatchingRule, decision.Reason)

	// Break the glass, then the same request allows via the grant.
	grant, err := fx.overrideSvc.Request(context.Background(), claims, ref, "unconscious patient in ER, need history now")
	require.NoError(t, err)
	assert.Equal(t, model.OverrideActive, grant.Status)
	require.Len(t, fx.notifier.grants, 1)

	decision, err = fx.svc.Evaluate(context.Background(), claims, ref, "read")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictAllowViaOverride, decision.Verdict)
	assert.Equal(t, model.ReasonOverrideActive, decision.Reason)

	actions := fx.auditRepo.actions()
	assert.Equal(t, []string{
		model.AuditActionAccessDecision,
		model.AuditActionBreakTheGlass,
		model.AuditActionAccessDecision,
	}, actions)
}

func TestEvaluateConsentGateBlocksExport(t *testing.T) {
	exportRule := &model.PolicyRule{
		ResourceType: model.ResourceMedicalRecord,
		Action:       "export",
		Role:         "data_manager",
		Effect:       model.EffectAllow,
		Position:     1,
	}
	exportRule.ID = uuid.New()
	reqs := []*model.ConsentRequirement{
		{ResourceType: model.ResourceMedicalRecord, Action: "export", Scope: model.ScopeResearch},
	}
	fx := newFixture(t, []*model.PolicyRule{exportRule}, reqs)
	tenantID := uuid.New()

	claims := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    tenantID,
		Role:        model.RoleDataManager,
	}

	patientID := uuid.New()
	attrs := &model.ResourceAttributes{
		ResourceType: model.ResourceMedicalRecord,
		TenantID:     tenantID,
		PatientID:    patientID,
	}
	attrs.ID = uuid.New()
	fx.resources.put(attrs)
	fx.consents.snapshots[patientID] = model.ConsentSnapshot{model.ScopeResearch: model.ConsentRevoked}

	decision, err := fx.svc.Evaluate(context.Background(), claims, model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}, "export")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDeny, decision.Verdict)
	assert.Equal(t, model.ReasonConsentNotGiven, decision.Reason)
}

func TestOverrideDoesNotBypassNonTreatmentConsent(t *testing.T) {
	reqs := []*model.ConsentRequirement{
		{ResourceType: model.ResourceMedicalRecord, Action: "export", Scope: model.ScopeResearch},
	}
	fx := newFixture(t, nil, reqs)
	tenantID := uuid.New()

	claims := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    tenantID,
		Role:        model.RoleDoctor,
	}

	patientID := uuid.New()
	attrs := &model.ResourceAttributes{
		ResourceType: model.ResourceMedicalRecord,
		TenantID:     tenantID,
		PatientID:    patientID,
	}
	attrs.ID = uuid.New()
	fx.resources.put(attrs)
	fx.consents.snapshots[patientID] = model.ConsentSnapshot{model.ScopeResearch: model.ConsentRevoked}

	ref := model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}
	_, err := fx.overrideSvc.Request(context.Background(), claims, ref, "emergency requiring record export now")
	require.NoError(t, err)

	decision, err := fx.svc.Evaluate(context.Background(), claims, ref, "export")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDeny, decision.Verdict)
	assert.Equal(t, model.ReasonConsentNotGiven, decision.Reason)
}

func TestEvaluateMissingResourceLooksLikeDenial(t *testing.T) {
	fx := newFixture(t, []*model.PolicyRule{careTeamRule()}, nil)

	claims := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    uuid.New(),
		Role:        model.RoleDoctor,
	}

	decision, err := fx.svc.Evaluate(context.Background(), claims, model.ResourceRef{Type: model.ResourceMedicalRecord, ID: uuid.New()}, "read")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDeny, decision.Verdict)
	assert.Equal(t, model.ReasonNotFound, decision.Reason)
	assert.Equal(t, model.ReasonNoMatchingRule, decision.PublicReason())

	// Still audited and persisted.
	assert.Contains(t, fx.auditRepo.actions(), model.AuditActionAccessDecision)
	assert.Len(t, fx.decisions.decisions, 1)
}

func TestEvaluateCrossTenantLooksLikeDenial(t *testing.T) {
	fx := newFixture(t, []*model.PolicyRule{careTeamRule()}, nil)

	attrs := &model.ResourceAttributes{
		ResourceType: model.ResourceMedicalRecord,
		TenantID:     uuid.New(),
		PatientID:    uuid.New(),
	}
	attrs.ID = uuid.New()
	fx.resources.put(attrs)

	claims := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    uuid.New(), // different tenant
		Role:        model.RoleDoctor,
	}

	decision, err := fx.svc.Evaluate(context.Background(), claims, model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}, "read")
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDeny, decision.Verdict)
	assert.Equal(t, model.ReasonNotFound, decision.Reason)
	assert.Equal(t, model.ReasonNoMatchingRule, decision.PublicReason())
}

func TestEvaluateFailsClosedWhenAuditDown(t *testing.T) {
	fx := newFixture(t, []*model.PolicyRule{careTeamRule()}, nil)
	tenantID := uuid.New()
	teamID := uuid.New()

	claims := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    tenantID,
		Role:        model.RoleDoctor,
		CareTeams:   []uuid.UUID{teamID},
	}

	attrs := &model.ResourceAttributes{
		ResourceType: model.ResourceMedicalRecord,
		TenantID:     tenantID,
		PatientID:    uuid.New(),
		CareTeamIDs:  []uuid.UUID{teamID},
	}
	attrs.ID = uuid.New()
	fx.resources.put(attrs)

	fx.auditRepo.fail = true

	_, err := fx.svc.Evaluate(context.Background(), claims, model.ResourceRef{Type: model.ResourceMedicalRecord, ID: attrs.ID}, "read")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrAuditUnavailable))

	// The rules said ALLOW; the caller still never heard it.
	require.Len(t, fx.decisions.decisions, 1)
	assert.Equal(t, model.VerdictAllow, fx.decisions.decisions[0].Verdict)
}

func TestQueryAuditGatedByPolicy(t *testing.T) {
	auditRule := &model.PolicyRule{
		ResourceType: model.ResourceAuditLog,
		Action:       "read",
		Role:         "compliance_officer",
		Effect:       model.EffectAllow,
		Position:     1,
	}
	auditRule.ID = uuid.New()
	fx := newFixture(t, []*model.PolicyRule{auditRule}, nil)
	tenantID := uuid.New()

	officer := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    tenantID,
		Role:        model.RoleComplianceOfficer,
	}

	events, _, err := fx.svc.QueryAudit(context.Background(), officer, &model.AuditFilters{})
	require.NoError(t, err)
	assert.Empty(t, events)

	// The query itself is now in the chain.
	assert.Contains(t, fx.auditRepo.actions(), model.AuditActionAuditQuery)

	nurse := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    tenantID,
		Role:        model.RoleNurse,
	}
	_, _, err = fx.svc.QueryAudit(context.Background(), nurse, &model.AuditFilters{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrAccessDenied))
}

func TestDeniedAuditQueryIsStillChained(t *testing.T) {
	fx := newFixture(t, nil, nil)

	nurse := &model.PrincipalClaims{
		PrincipalID: uuid.New(),
		TenantID:    uuid.New(),
		Role:        model.RoleNurse,
	}
	_, _, err := fx.svc.QueryAudit(context.Background(), nurse, &model.AuditFilters{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrAccessDenied))

	// The refused attempt is itself a chain link.
	require.Equal(t, []string{model.AuditActionAuditQuery}, fx.auditRepo.actions())
	event := fx.auditRepo.events[0]
	assert.Equal(t, nurse.PrincipalID, event.ActorID)
	assert.Equal(t, string(model.VerdictDeny), event.Verdict)
	assert.Equal(t, model.ReasonNoMatchingRule, event.Reason)
}
