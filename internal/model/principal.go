package model

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is the principal's primary role. The set is closed; a session keeps
// the role it was issued with for its whole lifetime.
type Role string

const (
	RoleSuperAdmin        Role = "super_admin"
	RoleAdmin             Role = "admin"
	RoleDoctor            Role = "doctor"
	RoleNurse             Role = "nurse"
	RolePharmacist        Role = "pharmacist"
	RoleReceptionist      Role = "receptionist"
	RoleDataManager       Role = "data_manager"
	RoleComplianceOfficer Role = "compliance_officer"
)

var validRoles = map[Role]struct{}{
	RoleSuperAdmin:        {},
	RoleAdmin:             {},
	RoleDoctor:            {},
	RoleNurse:             {},
	RolePharmacist:        {},
	RoleReceptionist:      {},
	RoleDataManager:       {},
	RoleComplianceOfficer: {},
}

func (r Role) Valid() bool {
	_, ok := validRoles[r]
	return ok
}

// IsClinician reports whether the role is a Clinician subtype.
func (r Role) IsClinician() bool {
	return r == RoleDoctor || r == RoleNurse
}

// PrincipalClaims are the pre-verified identity claims supplied by the
// platform gateway. Token issuance and signature verification happen
// upstream; this service only decodes what the gateway already checked.
type PrincipalClaims struct {
	jwt.RegisteredClaims
	PrincipalID uuid.UUID   `json:"principal_id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Role        Role        `json:"role"`
	Service     string      `json:"service"`
	CareTeams   []uuid.UUID `json:"care_teams"`
	OnDuty      bool        `json:"on_duty"`
}
