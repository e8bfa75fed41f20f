package policy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/authz-api/internal/model"
)

func rule(resourceType, action, role string, effect model.RuleEffect, cond string, position int) *model.PolicyRule {
	r := &model.PolicyRule{
		ResourceType: resourceType,
		Action:       action,
		Role:         role,
		Effect:       effect,
		Position:     position,
	}
	r.ID = uuid.New()
	if cond != "" {
		r.Condition = json.RawMessage(cond)
	}
	return r
}

func buildSnapshot(t *testing.T, rules []*model.PolicyRule, inheritance []*model.RoleInheritance, reqs []*model.ConsentRequirement) *Snapshot {
	t.Helper()
	snap, err := Build(1, rules, inheritance, reqs)
	require.NoError(t, err)
	return snap
}

func decisionCtx(role model.Role, resourceType, action string) *model.AttributeContext {
	tenantID := uuid.New()
	return &model.AttributeContext{
		TenantID: tenantID,
		Action:   action,
		Principal: model.PrincipalAttributes{
			ID:       uuid.New(),
			TenantID: tenantID,
			Role:     role,
			Service:  "cardiology",
			OnDuty:   true,
		},
		Resource: model.ResourceAttributes{
			ResourceType:    resourceType,
			TenantID:        tenantID,
			PatientID:       uuid.New(),
			AssignedService: "cardiology",
			EncounterStatus: model.EncounterOpen,
		},
		Consent: model.ConsentSnapshot{},
		Env: model.EnvironmentAttributes{
			Time:      time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
			WorkHours: true,
		},
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	snap := buildSnapshot(t, nil, nil, nil)

	outcome := Evaluate(snap, decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read"))

	assert.Equal(t, model.VerdictDeny, outcome.Verdict)
	assert.Equal(t, model.ReasonNoMatchingRule, outcome.Reason)
	assert.Empty(t, outcome.MatchedRuleIDs)
}

func TestEvaluateAllowOnMatch(t *testing.T) {
	allow := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectAllow, "", 1)
	snap := buildSnapshot(t, []*model.PolicyRule{allow}, nil, nil)

	outcome := Evaluate(snap, decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read"))

	assert.Equal(t, model.VerdictAllow, outcome.Verdict)
	assert.Equal(t, model.ReasonRuleMatch, outcome.Reason)
	assert.Equal(t, []string{allow.ID.String()}, outcome.MatchedRuleIDs)
}

func TestEvaluateDenyOverridesAllow(t *testing.T) {
	allow := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectAllow, "", 1)
	deny := rule(model.ResourceMedicalRecord, "read", "*", model.EffectDeny, "", 2)
	snap := buildSnapshot(t, []*model.PolicyRule{allow, deny}, nil, nil)

	outcome := Evaluate(snap, decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read"))

	assert.Equal(t, model.VerdictDeny, outcome.Verdict)
	assert.Equal(t, model.ReasonExplicitDeny, outcome.Reason)
	assert.Equal(t, []string{deny.ID.String()}, outcome.MatchedRuleIDs)
}

func TestEvaluateMostSpecificAllowCited(t *testing.T) {
	broad := rule("*", "*", "doctor", model.EffectAllow, "", 1)
	narrow := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectAllow, "", 2)
	snap := buildSnapshot(t, []*model.PolicyRule{broad, narrow}, nil, nil)

	outcome := Evaluate(snap, decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read"))

	assert.Equal(t, model.VerdictAllow, outcome.Verdict)
	assert.Equal(t, []string{narrow.ID.String()}, outcome.MatchedRuleIDs)
}

func TestEvaluateSpecificityTieGoesToEarliestPosition(t *testing.T) {
	first := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectAllow, "", 1)
	second := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectAllow, "", 2)
	snap := buildSnapshot(t, []*model.PolicyRule{second, first}, nil, nil)

	outcome := Evaluate(snap, decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read"))

	assert.Equal(t, []string{first.ID.String()}, outcome.MatchedRuleIDs)
}

func TestEvaluateConditionFiltersRules(t *testing.T) {
	cond := `{"attr":"same_service","op":"eq","value":"true"}`
	allow := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectAllow, cond, 1)
	snap := buildSnapshot(t, []*model.PolicyRule{allow}, nil, nil)

	sameService := decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read")
	outcome := Evaluate(snap, sameService)
	assert.Equal(t, model.VerdictAllow, outcome.Verdict)

	other := decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read")
	other.Resource.AssignedService = "oncology"
	outcome = Evaluate(snap, other)
	assert.Equal(t, model.VerdictDeny, outcome.Verdict)
	assert.Equal(t, model.ReasonNoMatchingRule, outcome.Reason)
}

func TestEvaluateRoleInheritance(t *testing.T) {
	clinicianRule := rule(model.ResourceAppointment, "read", "clinician", model.EffectAllow, "", 1)
	edges := []*model.RoleInheritance{
		{Role: "doctor", Parent: "clinician"},
		{Role: "nurse", Parent: "clinician"},
	}
	snap := buildSnapshot(t, []*model.PolicyRule{clinicianRule}, edges, nil)

	for _, role := range []model.Role{model.RoleDoctor, model.RoleNurse} {
		outcome := Evaluate(snap, decisionCtx(role, model.ResourceAppointment, "read"))
		assert.Equal(t, model.VerdictAllow, outcome.Verdict, "role %s should inherit clinician rules", role)
	}

	outcome := Evaluate(snap, decisionCtx(model.RoleReceptionist, model.ResourceAppointment, "read"))
	assert.Equal(t, model.VerdictDeny, outcome.Verdict)
}

func TestEvaluateTransitiveInheritance(t *testing.T) {
	staffRule := rule(model.ResourceAppointment, "read", "staff", model.EffectAllow, "", 1)
	edges := []*model.RoleInheritance{
		{Role: "clinician", Parent: "staff"},
		{Role: "doctor", Parent: "clinician"},
	}
	snap := buildSnapshot(t, []*model.PolicyRule{staffRule}, edges, nil)

	outcome := Evaluate(snap, decisionCtx(model.RoleDoctor, model.ResourceAppointment, "read"))
	assert.Equal(t, model.VerdictAllow, outcome.Verdict)
}

func TestConsentGateBlocksAllow(t *testing.T) {
	allow := rule(model.ResourceMedicalRecord, "export", "data_manager", model.EffectAllow, "", 1)
	reqs := []*model.ConsentRequirement{
		{ResourceType: model.ResourceMedicalRecord, Action: "export", Scope: model.ScopeResearch},
	}
	snap := buildSnapshot(t, []*model.PolicyRule{allow}, nil, reqs)

	attrCtx := decisionCtx(model.RoleDataManager, model.ResourceMedicalRecord, "export")
	attrCtx.Consent = model.ConsentSnapshot{model.ScopeResearch: model.ConsentRevoked}

	outcome := Evaluate(snap, attrCtx)
	assert.Equal(t, model.VerdictDeny, outcome.Verdict)
	assert.Equal(t, model.ReasonConsentNotGiven, outcome.Reason)
	assert.Equal(t, model.ScopeResearch, outcome.RequiredScope)
}

func TestConsentGatePassesWhenGiven(t *testing.T) {
	allow := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectAllow, "", 1)
	reqs := []*model.ConsentRequirement{
		{ResourceType: model.ResourceMedicalRecord, Action: "read", Scope: model.ScopeTreatment},
	}
	snap := buildSnapshot(t, []*model.PolicyRule{allow}, nil, reqs)

	// Treatment defaults to GIVEN when no history exists.
	outcome := Evaluate(snap, decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read"))
	assert.Equal(t, model.VerdictAllow, outcome.Verdict)
}

func TestConsentGateDoesNotRescueDeny(t *testing.T) {
	deny := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectDeny, "", 1)
	reqs := []*model.ConsentRequirement{
		{ResourceType: model.ResourceMedicalRecord, Action: "read", Scope: model.ScopeTreatment},
	}
	snap := buildSnapshot(t, []*model.PolicyRule{deny}, nil, reqs)

	outcome := Evaluate(snap, decisionCtx(model.RoleDoctor, model.ResourceMedicalRecord, "read"))
	assert.Equal(t, model.VerdictDeny, outcome.Verdict)
	assert.Equal(t, model.ReasonExplicitDeny, outcome.Reason)
}

func TestSuperAdminAuditExportCarveOut(t *testing.T) {
	allow := rule(model.ResourceAuditLog, "export", "super_admin", model.EffectAllow, "", 1)
	reqs := []*model.ConsentRequirement{
		{ResourceType: model.ResourceAuditLog, Action: "export", Scope: model.ScopeExternalShare},
	}
	snap := buildSnapshot(t, []*model.PolicyRule{allow}, nil, reqs)

	attrCtx := decisionCtx(model.RoleSuperAdmin, model.ResourceAuditLog, "export")
	attrCtx.Consent = model.ConsentSnapshot{model.ScopeExternalShare: model.ConsentNotGiven}

	outcome := Evaluate(snap, attrCtx)
	assert.Equal(t, model.VerdictAllow, outcome.Verdict)

	// Same consent state, different role: the carve-out does not extend.
	attrCtx = decisionCtx(model.RoleDataManager, model.ResourceAuditLog, "export")
	attrCtx.Consent = model.ConsentSnapshot{model.ScopeExternalShare: model.ConsentNotGiven}
	snap = buildSnapshot(t, []*model.PolicyRule{
		rule(model.ResourceAuditLog, "export", "data_manager", model.EffectAllow, "", 1),
	}, nil, reqs)

	outcome = Evaluate(snap, attrCtx)
	assert.Equal(t, model.VerdictDeny, outcome.Verdict)
	assert.Equal(t, model.ReasonConsentNotGiven, outcome.Reason)
}

func TestBuildRejectsMalformedCondition(t *testing.T) {
	bad := rule(model.ResourceMedicalRecord, "read", "doctor", model.EffectAllow, `{"attr":"x","op":"bogus"}`, 1)
	_, err := Build(1, []*model.PolicyRule{bad}, nil, nil)
	assert.Error(t, err)
}

func TestBuildRejectsInvalidConsentScope(t *testing.T) {
	reqs := []*model.ConsentRequirement{
		{ResourceType: model.ResourceMedicalRecord, Action: "read", Scope: "BOGUS"},
	}
	_, err := Build(1, nil, nil, reqs)
	assert.Error(t, err)
}

func TestConsentScopeForWildcardFallback(t *testing.T) {
	reqs := []*model.ConsentRequirement{
		{ResourceType: model.Wildcard, Action: "export", Scope: model.ScopeExternalShare},
		{ResourceType: model.ResourceMedicalRecord, Action: "export", Scope: model.ScopeResearch},
	}
	snap := buildSnapshot(t, nil, nil, reqs)

	scope, required := snap.ConsentScopeFor(model.ResourceMedicalRecord, "export")
	require.True(t, required)
	assert.Equal(t, model.ScopeResearch, scope)

	scope, required = snap.ConsentScopeFor(model.ResourcePrescription, "export")
	require.True(t, required)
	assert.Equal(t, model.ScopeExternalShare, scope)

	_, required = snap.ConsentScopeFor(model.ResourcePrescription, "read")
	assert.False(t, required)
}
