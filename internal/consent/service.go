package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/audit"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/keymutex"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

// Roles that may record a consent change on the patient's behalf.
var consentWriteRoles = map[model.Role]struct{}{
	model.RoleDoctor:            {},
	model.RoleNurse:             {},
	model.RoleReceptionist:      {},
	model.RoleComplianceOfficer: {},
	model.RoleSuperAdmin:        {},
}

// Service is the consent registry. History is append-only; the current
// pointer moves forward, never back. A revocation takes effect for every
// decision evaluated after it commits and touches nothing already decided.
// Every caller-facing path pins the patient to the caller's tenant first.
type Service struct {
	repo      repository.ConsentRepository
	directory repository.ResourceDirectoryRepository
	auditor   *audit.Service
	locks     *keymutex.KeyMutex
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewService(repo repository.ConsentRepository, directory repository.ResourceDirectoryRepository, auditor *audit.Service, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		auditor:   auditor,
		locks:     keymutex.New(),
		logger:    logger,
		metrics:   m,
	}
}

// verifyPatient confirms the patient exists in the caller's tenant. An
// unknown patient and a foreign-tenant patient answer identically so
// patient ids cannot be probed across tenants.
func (s *Service) verifyPatient(ctx context.Context, actor *model.PrincipalClaims, patientID uuid.UUID) error {
	attrs, err := s.directory.GetAttributes(ctx, model.ResourcePatient, patientID)
	if err != nil {
		return fmt.Errorf("failed to resolve patient %s: %w", patientID, err)
	}
	if attrs == nil || attrs.TenantID != actor.TenantID {
		return apperrors.NotFound("patient", nil)
	}
	return nil
}

// Get returns the current record for (patient, scope), synthesizing the
// scope default when no history exists.
func (s *Service) Get(ctx context.Context, actor *model.PrincipalClaims, patientID uuid.UUID, scope model.ConsentScope) (*model.ConsentRecord, error) {
	if !scope.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid consent scope %q", scope), nil)
	}
	if err := s.verifyPatient(ctx, actor, patientID); err != nil {
		return nil, err
	}

	record, err := s.repo.GetCurrent(ctx, patientID, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	if record == nil {
		return &model.ConsentRecord{
			PatientID: patientID,
			Scope:     scope,
			Status:    model.DefaultConsent(scope),
			Current:   true,
		}, nil
	}
	return record, nil
}

// PatientSnapshot is the caller-facing read of a patient's current status
// for every scope.
func (s *Service) PatientSnapshot(ctx context.Context, actor *model.PrincipalClaims, patientID uuid.UUID) (model.ConsentSnapshot, error) {
	if err := s.verifyPatient(ctx, actor, patientID); err != nil {
		return nil, err
	}
	return s.Snapshot(ctx, patientID)
}

// Snapshot returns the patient's current status for every scope. It is the
// read side the attribute resolver uses; the resolver has already pinned
// the resource, and with it the patient, to the caller's tenant.
func (s *Service) Snapshot(ctx context.Context, patientID uuid.UUID) (model.ConsentSnapshot, error) {
	records, err := s.repo.ListCurrent(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consent snapshot: %w", err)
	}

	snapshot := make(model.ConsentSnapshot, len(model.AllConsentScopes))
	for _, scope := range model.AllConsentScopes {
		snapshot[scope] = model.DefaultConsent(scope)
	}
	for _, record := range records {
		snapshot[record.Scope] = record.Status
	}
	return snapshot, nil
}

// History returns the full append-only history for (patient, scope).
func (s *Service) History(ctx context.Context, actor *model.PrincipalClaims, patientID uuid.UUID, scope model.ConsentScope) ([]*model.ConsentRecord, error) {
	if !scope.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid consent scope %q", scope), nil)
	}
	if err := s.verifyPatient(ctx, actor, patientID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, patientID, scope)
}

// Set appends a new history row and moves the current pointer, serialized
// per (patient, scope). The response is withheld until the change is
// audited; an audit failure surfaces as AUDIT_UNAVAILABLE even though the
// committed history row stands.
func (s *Service) Set(ctx context.Context, actor *model.PrincipalClaims, patientID uuid.UUID, scope model.ConsentScope, status model.ConsentStatus) (*model.ConsentRecord, error) {
	if !scope.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid consent scope %q", scope), nil)
	}
	if !status.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("invalid consent status %q", status), nil)
	}
	if _, ok := consentWriteRoles[actor.Role]; !ok {
		return nil, apperrors.AccessDenied(fmt.Sprintf("role %s may not change consent", actor.Role))
	}
	if err := s.verifyPatient(ctx, actor, patientID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(patientID.String() + "|" + string(scope))
	defer unlock()

	now := time.Now().UTC()
	record := &model.ConsentRecord{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		PatientID:     patientID,
		TenantID:      actor.TenantID,
		Scope:         scope,
		Status:        status,
		ActorID:       actor.PrincipalID,
		EffectiveFrom: now,
		Current:       true,
	}

	if err := s.repo.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to append consent record: %w", err)
	}

	metadata, _ := json.Marshal(map[string]string{
		"scope":  string(scope),
		"status": string(status),
	})
	if _, err := s.auditor.Append(ctx, &model.AuditEvent{
		TenantID:     actor.TenantID,
		ActorID:      actor.PrincipalID,
		ActorRole:    actor.Role,
		Action:       model.AuditActionConsentChanged,
		ResourceType: "consent",
		ResourceID:   patientID,
		Metadata:     metadata,
	}); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ConsentChanges.WithLabelValues(string(scope), string(status)).Inc()
	}
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("scope", string(scope)).
		Str("status", string(status)).
		Str("actor_id", actor.PrincipalID.String()).
		Msg("consent changed")

	return record, nil
}
