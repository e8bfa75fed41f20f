package model

import (
	"time"

	"github.com/google/uuid"
)

type ConsentScope string

const (
	ScopeTreatment     ConsentScope = "TREATMENT"
	ScopeResearch      ConsentScope = "RESEARCH"
	ScopeExternalShare ConsentScope = "EXTERNAL_SHARE"
	ScopePortal        ConsentScope = "PORTAL"
)

var AllConsentScopes = []ConsentScope{ScopeTreatment, ScopeResearch, ScopeExternalShare, ScopePortal}

func (s ConsentScope) Valid() bool {
	switch s {
	case ScopeTreatment, ScopeResearch, ScopeExternalShare, ScopePortal:
		return true
	}
	return false
}

type ConsentStatus string

const (
	ConsentGiven    ConsentStatus = "GIVEN"
	ConsentRevoked  ConsentStatus = "REVOKED"
	ConsentNotGiven ConsentStatus = "NOT_GIVEN"
)

func (s ConsentStatus) Valid() bool {
	switch s {
	case ConsentGiven, ConsentRevoked, ConsentNotGiven:
		return true
	}
	return false
}

// DefaultConsent returns the implied status for a scope with no recorded
// history. Treatment consent is implied at patient creation; everything
// else must be given explicitly.
func DefaultConsent(scope ConsentScope) ConsentStatus {
	if scope == ScopeTreatment {
		return ConsentGiven
	}
	return ConsentNotGiven
}

// ConsentRecord is one row of a patient's consent history. Rows are only
// ever appended; a status change inserts a new row and flips the current
// pointer off the previous one.
type ConsentRecord struct {
	Base
	PatientID      uuid.UUID     `db:"patient_id" json:"patient_id"`
	TenantID       uuid.UUID     `db:"tenant_id" json:"tenant_id"`
	Scope          ConsentScope  `db:"scope" json:"scope"`
	Status         ConsentStatus `db:"status" json:"status"`
	ActorID        uuid.UUID     `db:"actor_id" json:"actor_id"`
	EffectiveFrom  time.Time     `db:"effective_from" json:"effective_from"`
	EffectiveUntil *time.Time    `db:"effective_until" json:"effective_until,omitempty"`
	Current        bool          `db:"current" json:"current"`
}

// ConsentSnapshot is the per-patient view the evaluator consumes. Scopes
// with no history carry their default.
type ConsentSnapshot map[ConsentScope]ConsentStatus

func (s ConsentSnapshot) Status(scope ConsentScope) ConsentStatus {
	if st, ok := s[scope]; ok {
		return st
	}
	return DefaultConsent(scope)
}
