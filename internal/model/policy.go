package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// RuleEffect is the outcome a matching rule contributes.
type RuleEffect string

const (
	EffectAllow RuleEffect = "ALLOW"
	EffectDeny  RuleEffect = "DENY"
)

// Wildcard matches any value in a rule's resource_type, action or role column.
const Wildcard = "*"

// PolicyRule is one row of the admin-managed rule set. Rules are never
// evaluated directly from the table; a loader builds an immutable versioned
// snapshot and evaluation runs against that.
type PolicyRule struct {
	Base
	ResourceType string          `db:"resource_type" json:"resource_type"`
	Action       string          `db:"action" json:"action"`
	Role         string          `db:"role" json:"role"`
	Condition    json.RawMessage `db:"condition" json:"condition,omitempty"`
	Effect       RuleEffect      `db:"effect" json:"effect"`
	Description  string          `db:"description" json:"description"`
	Position     int             `db:"position" json:"position"`
}

// RoleInheritance declares that Role inherits every rule granted to Parent.
// Inheritance is flattened when a snapshot is built; evaluation never walks
// the hierarchy.
type RoleInheritance struct {
	Role   string `db:"role" json:"role"`
	Parent string `db:"parent" json:"parent"`
}

// ConsentRequirement maps an (resource_type, action) pair onto the consent
// scope it needs. Pairs without a row need no explicit consent.
type ConsentRequirement struct {
	ResourceType string       `db:"resource_type" json:"resource_type"`
	Action       string       `db:"action" json:"action"`
	Scope        ConsentScope `db:"scope" json:"scope"`
}

// PolicyVersion identifies one loaded generation of the rule set.
type PolicyVersion struct {
	Version   int64     `db:"version" json:"version"`
	RuleCount int       `db:"rule_count" json:"rule_count"`
	LoadedBy  uuid.UUID `db:"loaded_by" json:"loaded_by"`
}
