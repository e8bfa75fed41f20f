package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/attribute"
	"github.com/jwalitptl/authz-api/internal/audit"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/override"
	"github.com/jwalitptl/authz-api/internal/policy"
	"github.com/jwalitptl/authz-api/internal/repository"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

// Service orchestrates one access decision end to end: resolve attributes,
// check for an active emergency grant, evaluate the rule set, persist the
// decision, and commit it to the audit chain before anything is returned.
// The audit write is the gate: if it fails the caller gets a denial no
// matter what the rules said.
type Service struct {
	policies  *policy.Store
	resolver  *attribute.Resolver
	overrides *override.Service
	decisions repository.DecisionRepository
	auditor   *audit.Service
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(
	policies *policy.Store,
	resolver *attribute.Resolver,
	overrides *override.Service,
	decisions repository.DecisionRepository,
	auditor *audit.Service,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		policies:  policies,
		resolver:  resolver,
		overrides: overrides,
		decisions: decisions,
		auditor:   auditor,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Evaluate decides whether the principal may perform action on the
// resource. It always returns either a decision or an error; an error
// means the request must be refused, so every path out of here is closed
// by default.
func (s *Service) Evaluate(ctx context.Context, claims *model.PrincipalClaims, ref model.ResourceRef, action string) (*model.AccessDecision, error) {
	start := s.now()

	snap := s.policies.Current()
	if snap == nil {
		return nil, apperrors.Internal(fmt.Errorf("no policy snapshot loaded"))
	}

	attrCtx, err := s.resolver.Resolve(ctx, claims, ref, action, claims.TenantID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrNotFound) {
			// Absent or foreign-tenant resource. Record the real reason,
			// respond with an indistinguishable denial.
			return s.commit(ctx, claims, ref, action, policy.Outcome{
				Verdict: model.VerdictDeny,
				Reason:  model.ReasonNotFound,
			}, nil, start)
		}
		return nil, err
	}

	outcome := s.evaluate(ctx, snap, claims, ref, attrCtx)
	return s.commit(ctx, claims, ref, action, outcome, attrCtx, start)
}

// evaluate picks between the emergency-grant short circuit and ordinary
// rule evaluation. An active grant allows without consulting the rules,
// but it does not void the consent gate beyond the scopes an emergency
// legitimately covers.
func (s *Service) evaluate(ctx context.Context, snap *policy.Snapshot, claims *model.PrincipalClaims, ref model.ResourceRef, attrCtx *model.AttributeContext) policy.Outcome {
	grant, err := s.overrides.ActiveGrant(ctx, claims.PrincipalID, ref)
	if err != nil {
		// Cannot tell whether a grant exists. Ordinary evaluation still
		// applies, so the request gets no more than the rules allow.
		s.logger.Warn().Err(err).Str("resource", ref.String()).Msg("override lookup failed, evaluating without grant")
		grant = nil
	}
	if grant == nil {
		return policy.Evaluate(snap, attrCtx)
	}

	outcome := policy.Outcome{
		Verdict: model.VerdictAllowViaOverride,
		Reason:  model.ReasonOverrideActive,
	}
	scope, required := snap.ConsentScopeFor(attrCtx.Resource.ResourceType, attrCtx.Action)
	if !required {
		return outcome
	}
	outcome.RequiredScope = scope
	if attrCtx.Consent.Status(scope) == model.ConsentGiven || s.overrides.ConsentBypass(scope) {
		return outcome
	}
	return policy.Outcome{
		Verdict:       model.VerdictDeny,
		Reason:        model.ReasonConsentNotGiven,
		RequiredScope: scope,
	}
}

// commit persists the decision, appends it to the audit chain and only
// then hands it back. An audit failure surfaces as AUDIT_UNAVAILABLE and
// the caller must treat the request as denied.
func (s *Service) commit(ctx context.Context, claims *model.PrincipalClaims, ref model.ResourceRef, action string, outcome policy.Outcome, attrCtx *model.AttributeContext, start time.Time) (*model.AccessDecision, error) {
	now := s.now().UTC()
	decision := &model.AccessDecision{
		Base: model.Base{
			CreatedAt: now,
			UpdatedAt: now,
		},
		PrincipalID:    claims.PrincipalID,
		TenantID:       claims.TenantID,
		ResourceType:   ref.Type,
		ResourceID:     ref.ID,
		Action:         action,
		Verdict:        outcome.Verdict,
		Reason:         outcome.Reason,
		MatchedRuleIDs: outcome.MatchedRuleIDs,
		EvaluatedAt:    now,
	}
	decision.ID = uuid.New()
	if attrCtx != nil {
		if snapshot, err := json.Marshal(attrCtx); err == nil {
			decision.Context = snapshot
		}
	}

	if err := s.decisions.Create(ctx, decision); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to persist decision: %w", err))
	}

	metadata, _ := json.Marshal(map[string]interface{}{
		"matched_rule_ids": outcome.MatchedRuleIDs,
		"required_scope":   outcome.RequiredScope,
	})
	if _, err := s.auditor.Append(ctx, &model.AuditEvent{
		TenantID:     claims.TenantID,
		ActorID:      claims.PrincipalID,
		ActorRole:    claims.Role,
		Action:       model.AuditActionAccessDecision,
		ResourceType: ref.Type,
		ResourceID:   ref.ID,
		DecisionRef:  &decision.ID,
		Verdict:      string(decision.Verdict),
		Reason:       decision.Reason,
		Metadata:     metadata,
	}); err != nil {
		// The decision row stands but was never witnessed by the chain, so
		// the caller hears a denial.
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(decision.Verdict), decision.Reason).Inc()
		s.metrics.DecisionLatency.Observe(s.now().Sub(start).Seconds())
	}
	s.logger.Info().
		Str("decision_id", decision.ID.String()).
		Str("principal_id", claims.PrincipalID.String()).
		Str("resource", ref.String()).
		Str("action", action).
		Str("verdict", string(decision.Verdict)).
		Str("reason", decision.Reason).
		Msg("access decision")

	return decision, nil
}

// QueryAudit gates read access to the audit trail through the same rule
// set as everything else, then records the query itself in the chain.
// Denied attempts are chained too, before the caller hears the refusal.
func (s *Service) QueryAudit(ctx context.Context, claims *model.PrincipalClaims, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	snap := s.policies.Current()
	if snap == nil {
		return nil, 0, apperrors.Internal(fmt.Errorf("no policy snapshot loaded"))
	}

	outcome := policy.Evaluate(snap, s.systemContext(claims, model.ResourceAuditLog, "read"))
	if outcome.Verdict != model.VerdictAllow {
		if err := s.auditQuery(ctx, claims, outcome); err != nil {
			return nil, 0, err
		}
		return nil, 0, apperrors.AccessDenied("audit trail access denied")
	}

	filters.TenantID = claims.TenantID
	events, total, err := s.auditor.Query(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	if err := s.auditQuery(ctx, claims, outcome); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

func (s *Service) auditQuery(ctx context.Context, claims *model.PrincipalClaims, outcome policy.Outcome) error {
	_, err := s.auditor.Append(ctx, &model.AuditEvent{
		TenantID:     claims.TenantID,
		ActorID:      claims.PrincipalID,
		ActorRole:    claims.Role,
		Action:       model.AuditActionAuditQuery,
		ResourceType: model.ResourceAuditLog,
		Verdict:      string(outcome.Verdict),
		Reason:       outcome.Reason,
	})
	return err
}

// systemContext builds a decision context for resources that live outside
// the resource directory, such as the audit trail itself. No patient, no
// consent, just the principal and the clock.
func (s *Service) systemContext(claims *model.PrincipalClaims, resourceType, action string) *model.AttributeContext {
	now := s.now().UTC()
	return &model.AttributeContext{
		TenantID: claims.TenantID,
		Action:   action,
		Principal: model.PrincipalAttributes{
			ID:        claims.PrincipalID,
			TenantID:  claims.TenantID,
			Role:      claims.Role,
			Service:   claims.Service,
			CareTeams: claims.CareTeams,
			OnDuty:    claims.OnDuty,
		},
		Resource: model.ResourceAttributes{
			ResourceType: resourceType,
			TenantID:     claims.TenantID,
		},
		Consent: model.ConsentSnapshot{},
		Env: model.EnvironmentAttributes{
			Time: now,
		},
	}
}
