package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Verdict string

const (
	VerdictAllow            Verdict = "ALLOW"
	VerdictDeny             Verdict = "DENY"
	VerdictAllowViaOverride Verdict = "ALLOW_VIA_OVERRIDE"
)

// Reason codes recorded on a decision. NOT_FOUND is internal only: the
// caller sees the same denial as a policy deny so resource existence
// cannot be probed across tenants.
const (
	ReasonRuleMatch        = "RULE_MATCH"
	ReasonNoMatchingRule   = "NO_MATCHING_RULE"
	ReasonExplicitDeny     = "EXPLICIT_DENY"
	ReasonConsentNotGiven  = "CONSENT_NOT_GIVEN"
	ReasonNotFound         = "NOT_FOUND"
	ReasonOverrideActive   = "OVERRIDE_ACTIVE"
	ReasonAuditUnavailable = "AUDIT_UNAVAILABLE"
)

// AccessDecision is the immutable record of one evaluate() call. Decisions
// are kept for the audit retention window and cleaned up by the worker;
// audit events are never deleted.
type AccessDecision struct {
	Base
	PrincipalID    uuid.UUID       `db:"principal_id" json:"principal_id"`
	TenantID       uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	ResourceType   string          `db:"resource_type" json:"resource_type"`
	ResourceID     uuid.UUID       `db:"resource_id" json:"resource_id"`
	Action         string          `db:"action" json:"action"`
	Verdict        Verdict         `db:"verdict" json:"verdict"`
	Reason         string          `db:"reason" json:"reason"`
	MatchedRuleIDs pq.StringArray  `db:"matched_rule_ids" json:"matched_rule_ids"`
	Context        json.RawMessage `db:"context_snapshot" json:"context_snapshot,omitempty"`
	EvaluatedAt    time.Time       `db:"evaluated_at" json:"evaluated_at"`
}

func (d *AccessDecision) Allowed() bool {
	return d.Verdict == VerdictAllow || d.Verdict == VerdictAllowViaOverride
}

// PublicReason masks reasons that would reveal whether a resource exists.
// A denial for an absent or foreign-tenant resource reads exactly like a
// default deny.
func (d *AccessDecision) PublicReason() string {
	if d.Reason == ReasonNotFound {
		return ReasonNoMatchingRule
	}
	return d.Reason
}

// PrincipalAttributes are the principal-side facts in a decision context.
type PrincipalAttributes struct {
	ID        uuid.UUID   `json:"id"`
	TenantID  uuid.UUID   `json:"tenant_id"`
	Role      Role        `json:"role"`
	Service   string      `json:"service"`
	CareTeams []uuid.UUID `json:"care_teams"`
	OnDuty    bool        `json:"on_duty"`
}

// EnvironmentAttributes are the request-time facts in a decision context.
type EnvironmentAttributes struct {
	Time      time.Time `json:"time"`
	WorkHours bool      `json:"work_hours"`
}

// AttributeContext bundles everything the evaluator needs for one request.
// It is assembled once by the attribute resolver and treated as read-only
// from then on.
type AttributeContext struct {
	TenantID  uuid.UUID             `json:"tenant_id"`
	Action    string                `json:"action"`
	Principal PrincipalAttributes   `json:"principal"`
	Resource  ResourceAttributes    `json:"resource"`
	Consent   ConsentSnapshot       `json:"consent"`
	Env       EnvironmentAttributes `json:"env"`
}

// Flatten exposes the context as the flat attribute map rule conditions
// are written against.
func (c *AttributeContext) Flatten() map[string]string {
	attrs := map[string]string{
		"principal.role":           string(c.Principal.Role),
		"principal.service":        c.Principal.Service,
		"principal.on_duty":        strconv.FormatBool(c.Principal.OnDuty),
		"resource.type":            c.Resource.ResourceType,
		"resource.patient_id":      c.Resource.PatientID.String(),
		"resource.service":         c.Resource.AssignedService,
		"resource.encounter":       c.Resource.EncounterStatus,
		"env.work_hours":           strconv.FormatBool(c.Env.WorkHours),
		"env.hour":                 strconv.Itoa(c.Env.Time.Hour()),
		"same_service":             strconv.FormatBool(c.Principal.Service != "" && c.Principal.Service == c.Resource.AssignedService),
		"principal.on_care_team":   strconv.FormatBool(c.OnCareTeam()),
		"consent.treatment":        string(c.Consent.Status(ScopeTreatment)),
		"consent.research":         string(c.Consent.Status(ScopeResearch)),
		"consent.external_share":   string(c.Consent.Status(ScopeExternalShare)),
		"consent.portal":           string(c.Consent.Status(ScopePortal)),
		"principal.is_clinician":   strconv.FormatBool(c.Principal.Role.IsClinician()),
	}
	return attrs
}

// OnCareTeam reports whether the principal belongs to any care team
// assigned to the resource.
func (c *AttributeContext) OnCareTeam() bool {
	for _, pt := range c.Principal.CareTeams {
		for _, rt := range c.Resource.CareTeamIDs {
			if pt == rt {
				return true
			}
		}
	}
	return false
}
