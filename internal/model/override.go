package model

import (
	"time"

	"github.com/google/uuid"
)

// OverrideStatus is the access-window side of a grant's lifecycle.
// Review runs on its own track: an expired grant still owes a review.
type OverrideStatus string

const (
	OverrideActive  OverrideStatus = "ACTIVE"
	OverrideExpired OverrideStatus = "EXPIRED"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// EmergencyOverrideGrant is a break-the-glass grant. At most one ACTIVE
// grant exists per (principal, resource); a repeat request renews the
// window instead of creating a duplicate.
type EmergencyOverrideGrant struct {
	Base
	PrincipalID   uuid.UUID      `db:"principal_id" json:"principal_id"`
	PrincipalRole Role           `db:"principal_role" json:"principal_role"`
	TenantID      uuid.UUID      `db:"tenant_id" json:"tenant_id"`
	ResourceType  string         `db:"resource_type" json:"resource_type"`
	ResourceID    uuid.UUID      `db:"resource_id" json:"resource_id"`
	Justification string         `db:"justification" json:"justification"`
	GrantedAt     time.Time      `db:"granted_at" json:"granted_at"`
	ExpiresAt     time.Time      `db:"expires_at" json:"expires_at"`
	Status        OverrideStatus `db:"status" json:"status"`
	ReviewStatus  ReviewStatus   `db:"review_status" json:"review_status"`
	ReviewerID    *uuid.UUID     `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewNotes   string         `db:"review_notes" json:"review_notes,omitempty"`
	ReviewedAt    *time.Time     `db:"reviewed_at" json:"reviewed_at,omitempty"`
	RenewalCount  int            `db:"renewal_count" json:"renewal_count"`
	Version       int            `db:"version" json:"version"`
}

// Expired reports whether the access window has lapsed. The status column
// may lag behind; callers treat a stale ACTIVE row past its window as
// expired and let the sweep catch the column up.
func (g *EmergencyOverrideGrant) Expired(now time.Time) bool {
	return g.Status == OverrideExpired || now.After(g.ExpiresAt)
}

// ReviewDecision is the reviewer's verdict on a grant.
type ReviewDecision string

const (
	ReviewDecisionApprove ReviewDecision = "approve"
	ReviewDecisionReject  ReviewDecision = "reject"
)
