package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit actions. Every decision path writes exactly one event before the
// caller sees a response.
const (
	AuditActionAccessDecision  = "access_decision"
	AuditActionBreakTheGlass   = "break_the_glass"
	AuditActionOverrideRenewed = "override_renewed"
	AuditActionOverrideReview  = "override_review"
	AuditActionConsentChanged  = "consent_changed"
	AuditActionPolicyReload    = "policy_reload"
	AuditActionAuditQuery      = "audit_query"
)

// AuditEvent is one link in a tenant's hash chain. HashSelf covers
// HashPrev plus the canonical serialization of the payload fields, so any
// retroactive edit breaks every later link.
type AuditEvent struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	TenantID      uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	Sequence      int64           `db:"sequence" json:"sequence"`
	Timestamp     time.Time       `db:"timestamp" json:"timestamp"`
	ActorID       uuid.UUID       `db:"actor_id" json:"actor_id"`
	ActorRole     Role            `db:"actor_role" json:"actor_role"`
	Action        string          `db:"action" json:"action"`
	ResourceType  string          `db:"resource_type" json:"resource_type"`
	ResourceID    uuid.UUID       `db:"resource_id" json:"resource_id"`
	DecisionRef   *uuid.UUID      `db:"decision_ref" json:"decision_ref,omitempty"`
	Verdict       string          `db:"verdict" json:"verdict,omitempty"`
	Reason        string          `db:"reason" json:"reason,omitempty"`
	Justification string          `db:"justification" json:"justification,omitempty"`
	Metadata      json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	HashPrev      string          `db:"hash_prev" json:"hash_prev"`
	HashSelf      string          `db:"hash_self" json:"hash_self"`
}

// auditPayload is the canonical form fed to the chain hash. All fields are
// concrete types (no maps at the top level) so json.Marshal produces a
// deterministic byte sequence.
type auditPayload struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Sequence      int64           `json:"sequence"`
	Timestamp     string          `json:"timestamp"`
	ActorID       uuid.UUID       `json:"actor_id"`
	ActorRole     Role            `json:"actor_role"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    uuid.UUID       `json:"resource_id"`
	DecisionRef   string          `json:"decision_ref"`
	Verdict       string          `json:"verdict"`
	Reason        string          `json:"reason"`
	Justification string          `json:"justification"`
	Metadata      json.RawMessage `json:"metadata"`
}

// CanonicalPayload serializes the hashable fields in stable order with
// RFC3339Nano UTC timestamps.
func (e *AuditEvent) CanonicalPayload() ([]byte, error) {
	ref := ""
	if e.DecisionRef != nil {
		ref = e.DecisionRef.String()
	}
	meta := e.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage("null")
	}
	return json.Marshal(auditPayload{
		ID:            e.ID,
		TenantID:      e.TenantID,
		Sequence:      e.Sequence,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		DecisionRef:   ref,
		Verdict:       e.Verdict,
		Reason:        e.Reason,
		Justification: e.Justification,
		Metadata:      meta,
	})
}

// AuditFilters narrows an audit query.
type AuditFilters struct {
	TenantID     uuid.UUID  `form:"-"`
	ActorID      *uuid.UUID `form:"actor_id"`
	ActorRole    Role       `form:"actor_role" binding:"omitempty,principal_role"`
	Action       string     `form:"action"`
	ResourceType string     `form:"resource_type"`
	ResourceID   *uuid.UUID `form:"resource_id"`
	From         *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To           *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Pagination
}
