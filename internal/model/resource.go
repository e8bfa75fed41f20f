package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Resource types this core knows how to authorize. Handlers for other
// platform services pass their own types through; the rule set decides
// whether anything matches.
const (
	ResourcePatient       = "patient"
	ResourceMedicalRecord = "medical_record"
	ResourcePrescription  = "prescription"
	ResourceAppointment   = "appointment"
	ResourceExport        = "export"
	ResourceAuditLog      = "audit_log"
)

// ResourceRef identifies the resource a caller wants to act on.
type ResourceRef struct {
	Type string    `json:"resource_type" binding:"required"`
	ID   uuid.UUID `json:"resource_id" binding:"required"`
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// ResourceAttributes are the facts the directory holds about a resource.
// They feed rule conditions; the evaluator never touches clinical content.
type ResourceAttributes struct {
	Base
	ResourceType    string      `db:"resource_type" json:"resource_type"`
	TenantID        uuid.UUID   `db:"tenant_id" json:"tenant_id"`
	PatientID       uuid.UUID   `db:"patient_id" json:"patient_id"`
	AssignedService string      `db:"assigned_service" json:"assigned_service"`
	CareTeamIDs     []uuid.UUID `db:"-" json:"care_team_ids"`
	EncounterStatus string      `db:"encounter_status" json:"encounter_status"`
}

// Encounter statuses carried on resource attributes.
const (
	EncounterOpen   = "open"
	EncounterClosed = "closed"
)
