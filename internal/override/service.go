package override

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/audit"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/notification"
	"github.com/jwalitptl/authz-api/internal/repository"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/keymutex"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

type Config struct {
	// MinJustificationLen is the shortest acceptable justification.
	MinJustificationLen int
	// AccessWindow is how long a fresh or renewed grant stays usable.
	AccessWindow time.Duration
	// AllowedRoles may request break-the-glass access.
	AllowedRoles []model.Role
	// LockoutThreshold rejected reviews within LockoutWindow disable
	// further requests from that principal. Fails closed.
	LockoutThreshold int
	LockoutWindow    time.Duration
	// ConsentBypassScopes are the scopes an active grant may read without
	// explicit consent. Default covers treatment only: an emergency does
	// not unlock research or external sharing.
	ConsentBypassScopes []model.ConsentScope
}

func DefaultConfig() Config {
	return Config{
		MinJustificationLen: 20,
		AccessWindow:        time.Hour,
		AllowedRoles:        []model.Role{model.RoleDoctor, model.RoleNurse, model.RolePharmacist},
		LockoutThreshold:    3,
		LockoutWindow:       30 * 24 * time.Hour,
		ConsentBypassScopes: []model.ConsentScope{model.ScopeTreatment},
	}
}

// Service is the break-the-glass controller. Granting is the one
// deliberate fail-open path in the system, so every transition lands in
// the audit chain and the compliance queue before the caller hears back.
type Service struct {
	repo     repository.OverrideRepository
	auditor  *audit.Service
	notifier notification.Notifier
	cfg      Config
	locks    *keymutex.KeyMutex
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(repo repository.OverrideRepository, auditor *audit.Service, notifier notification.Notifier, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Service {
	if cfg.MinJustificationLen <= 0 {
		cfg.MinJustificationLen = DefaultConfig().MinJustificationLen
	}
	if cfg.AccessWindow <= 0 {
		cfg.AccessWindow = DefaultConfig().AccessWindow
	}
	return &Service{
		repo:     repo,
		auditor:  auditor,
		notifier: notifier,
		cfg:      cfg,
		locks:    keymutex.New(),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Request moves NONE → REQUESTED → ACTIVE in one call: a request that
// passes the gates grants access immediately. A repeat request while a
// grant is ACTIVE renews the window instead of stacking a second grant.
func (s *Service) Request(ctx context.Context, claims *model.PrincipalClaims, ref model.ResourceRef, justification string) (*model.EmergencyOverrideGrant, error) {
	justification = strings.TrimSpace(justification)
	if chars := utf8.RuneCountInString(justification); chars < s.cfg.MinJustificationLen {
		s.countRequest("rejected")
		return nil, apperrors.OverrideRejected(apperrors.ReasonJustificationTooShort,
			fmt.Errorf("justification is %d characters, minimum is %d", chars, s.cfg.MinJustificationLen))
	}
	if !s.roleAllowed(claims.Role) {
		s.countRequest("rejected")
		return nil, apperrors.OverrideRejected(apperrors.ReasonRoleNotEligible,
			fmt.Errorf("role %s may not request emergency access", claims.Role))
	}

	rejected, err := s.repo.CountRejectedSince(ctx, claims.PrincipalID, s.now().Add(-s.cfg.LockoutWindow))
	if err != nil {
		// Cannot establish the principal is in good standing: fail closed.
		s.countRequest("rejected")
		return nil, apperrors.OverrideRejected(apperrors.ReasonAbuseLockout,
			fmt.Errorf("failed to check lockout state: %w", err))
	}
	if rejected >= s.cfg.LockoutThreshold {
		s.countRequest("rejected")
		return nil, apperrors.OverrideRejected(apperrors.ReasonAbuseLockout,
			fmt.Errorf("%d rejected overrides within lockout window", rejected))
	}

	unlock := s.locks.Lock(grantKey(claims.PrincipalID, ref))
	defer unlock()

	now := s.now().UTC()
	existing, err := s.repo.GetActive(ctx, claims.PrincipalID, ref.Type, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active grant: %w", err)
	}
	if existing != nil && !existing.Expired(now) {
		return s.renew(ctx, claims, existing)
	}
	if existing != nil {
		// Window lapsed but the sweep has not caught up yet. Losing the
		// CAS race just means someone else expired it first.
		if err := s.repo.MarkExpired(ctx, existing.ID, existing.Version); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Warn().Err(err).Str("grant_id", existing.ID.String()).Msg("failed to mark stale grant expired")
		}
	}

	grant := &model.EmergencyOverrideGrant{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		PrincipalID:   claims.PrincipalID,
		PrincipalRole: claims.Role,
		TenantID:      claims.TenantID,
		ResourceType:  ref.Type,
		ResourceID:    ref.ID,
		Justification: justification,
		GrantedAt:     now,
		ExpiresAt:     now.Add(s.cfg.AccessWindow),
		Status:        model.OverrideActive,
		ReviewStatus:  model.ReviewPending,
		Version:       1,
	}

	if err := s.repo.Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to create override grant: %w", err)
	}

	if err := s.auditGrant(ctx, claims, grant, model.AuditActionBreakTheGlass); err != nil {
		return nil, err
	}
	if err := s.notifier.NotifyOverride(ctx, grant); err != nil {
		// The grant and its audit record stand; the reviewer queue has a
		// gap that needs operator attention.
		s.logger.Error().Err(err).Str("grant_id", grant.ID.String()).Msg("failed to notify compliance reviewers")
	}

	s.countRequest("granted")
	if s.metrics != nil {
		s.metrics.OverridesActive.Inc()
	}
	s.logger.Warn().
		Str("grant_id", grant.ID.String()).
		Str("principal_id", claims.PrincipalID.String()).
		Str("resource", ref.String()).
		Time("expires_at", grant.ExpiresAt).
		Msg("break-the-glass access granted")

	return grant, nil
}

func (s *Service) renew(ctx context.Context, claims *model.PrincipalClaims, grant *model.EmergencyOverrideGrant) (*model.EmergencyOverrideGrant, error) {
	expiresAt := s.now().UTC().Add(s.cfg.AccessWindow)
	if err := s.repo.Renew(ctx, grant.ID, grant.Version, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to renew override grant: %w", err)
	}
	grant.ExpiresAt = expiresAt
	grant.RenewalCount++
	grant.Version++

	if err := s.auditGrant(ctx, claims, grant, model.AuditActionOverrideRenewed); err != nil {
		return nil, err
	}

	s.countRequest("renewed")
	s.logger.Warn().
		Str("grant_id", grant.ID.String()).
		Str("principal_id", claims.PrincipalID.String()).
		Time("expires_at", expiresAt).
		Msg("break-the-glass access renewed")

	return grant, nil
}

// ActiveGrant returns the usable grant for (principal, resource), lazily
// expiring a stale one. A nil grant means ordinary policy evaluation
// applies.
func (s *Service) ActiveGrant(ctx context.Context, principalID uuid.UUID, ref model.ResourceRef) (*model.EmergencyOverrideGrant, error) {
	grant, err := s.repo.GetActive(ctx, principalID, ref.Type, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active grant: %w", err)
	}
	if grant == nil {
		return nil, nil
	}
	if grant.Expired(s.now().UTC()) {
		if err := s.repo.MarkExpired(ctx, grant.ID, grant.Version); err == nil {
			if s.metrics != nil {
				s.metrics.OverridesActive.Dec()
			}
		}
		return nil, nil
	}
	return grant, nil
}

// Get returns a grant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.EmergencyOverrideGrant, error) {
	grant, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, apperrors.NotFound("override grant", nil)
	}
	return grant, nil
}

// Review records the terminal reviewer verdict. Expiry of the access
// window does not cancel the review obligation, so reviewing an EXPIRED
// grant is the normal case, not an error.
func (s *Service) Review(ctx context.Context, grantID uuid.UUID, reviewer *model.PrincipalClaims, decision model.ReviewDecision, notes string) (*model.EmergencyOverrideGrant, error) {
	if reviewer.Role != model.RoleComplianceOfficer && reviewer.Role != model.RoleSuperAdmin {
		return nil, apperrors.OverrideRejected(apperrors.ReasonRoleNotEligible,
			fmt.Errorf("role %s may not review overrides", reviewer.Role))
	}

	var status model.ReviewStatus
	switch decision {
	case model.ReviewDecisionApprove:
		status = model.ReviewApproved
	case model.ReviewDecisionReject:
		status = model.ReviewRejected
	default:
		return nil, apperrors.Validation(fmt.Sprintf("invalid review decision %q", decision), nil)
	}

	grant, err := s.repo.Get(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, apperrors.NotFound("override grant", nil)
	}
	if grant.ReviewStatus != model.ReviewPending {
		return nil, apperrors.Validation("override grant already reviewed", nil)
	}

	reviewedAt := s.now().UTC()
	if err := s.repo.Review(ctx, grantID, reviewer.PrincipalID, status, notes, reviewedAt); err != nil {
		return nil, fmt.Errorf("failed to record review: %w", err)
	}

	grant.ReviewStatus = status
	grant.ReviewerID = &reviewer.PrincipalID
	grant.ReviewNotes = notes
	grant.ReviewedAt = &reviewedAt

	metadata, _ := json.Marshal(map[string]string{
		"review_status": string(status),
		"notes":         notes,
	})
	if _, err := s.auditor.Append(ctx, &model.AuditEvent{
		TenantID:     grant.TenantID,
		ActorID:      reviewer.PrincipalID,
		ActorRole:    reviewer.Role,
		Action:       model.AuditActionOverrideReview,
		ResourceType: grant.ResourceType,
		ResourceID:   grant.ResourceID,
		Metadata:     metadata,
	}); err != nil {
		return nil, err
	}

	return grant, nil
}

// ConsentBypass reports whether an active grant may read the scope
// without explicit consent.
func (s *Service) ConsentBypass(scope model.ConsentScope) bool {
	for _, allowed := range s.cfg.ConsentBypassScopes {
		if allowed == scope {
			return true
		}
	}
	return false
}

func (s *Service) auditGrant(ctx context.Context, claims *model.PrincipalClaims, grant *model.EmergencyOverrideGrant, action string) error {
	metadata, _ := json.Marshal(map[string]interface{}{
		"grant_id":      grant.ID,
		"expires_at":    grant.ExpiresAt,
		"renewal_count": grant.RenewalCount,
		"service":       claims.Service,
		"on_duty":       claims.OnDuty,
	})
	_, err := s.auditor.Append(ctx, &model.AuditEvent{
		TenantID:      grant.TenantID,
		ActorID:       claims.PrincipalID,
		ActorRole:     claims.Role,
		Action:        action,
		ResourceType:  grant.ResourceType,
		ResourceID:    grant.ResourceID,
		Justification: grant.Justification,
		Metadata:      metadata,
	})
	return err
}

func (s *Service) roleAllowed(role model.Role) bool {
	for _, allowed := range s.cfg.AllowedRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

func (s *Service) countRequest(outcome string) {
	if s.metrics != nil {
		s.metrics.OverrideRequests.WithLabelValues(outcome).Inc()
	}
}

func grantKey(principalID uuid.UUID, ref model.ResourceRef) string {
	return principalID.String() + "|" + ref.String()
}
