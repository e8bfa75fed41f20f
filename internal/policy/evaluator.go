package policy

import (
	"github.com/jwalitptl/authz-api/internal/model"
)

// Outcome is the result of a pure rule evaluation.
type Outcome struct {
	Verdict        model.Verdict
	Reason         string
	MatchedRuleIDs []string
	RequiredScope  model.ConsentScope
}

// Evaluate runs the rule set against a resolved context. It is a pure
// function of the snapshot and the context: no clock, no I/O, no state.
//
// Combination order: deny-overrides, then most-specific allow, then
// default deny. The consent gate runs last and is authoritative — an
// ordinary ALLOW rule cannot out-vote a missing consent. The only
// carve-out is a SuperAdmin exporting the audit log itself.
func Evaluate(snap *Snapshot, attrCtx *model.AttributeContext) Outcome {
	attrs := attrCtx.Flatten()
	candidates := snap.RulesFor(attrCtx.Resource.ResourceType, attrCtx.Action, attrCtx.Principal.Role)

	var allows, denies []*CompiledRule
	for _, rule := range candidates {
		if rule.Condition != nil && !rule.Condition.Eval(attrs) {
			continue
		}
		if rule.Effect == model.EffectDeny {
			denies = append(denies, rule)
		} else {
			allows = append(allows, rule)
		}
	}

	var outcome Outcome
	switch {
	case len(denies) > 0:
		outcome = Outcome{
			Verdict:        model.VerdictDeny,
			Reason:         model.ReasonExplicitDeny,
			MatchedRuleIDs: []string{mostSpecific(denies).ID.String()},
		}
	case len(allows) > 0:
		outcome = Outcome{
			Verdict:        model.VerdictAllow,
			Reason:         model.ReasonRuleMatch,
			MatchedRuleIDs: []string{mostSpecific(allows).ID.String()},
		}
	default:
		outcome = Outcome{
			Verdict: model.VerdictDeny,
			Reason:  model.ReasonNoMatchingRule,
		}
	}

	return applyConsentGate(snap, attrCtx, outcome)
}

// applyConsentGate forces a denial when the action needs a consent scope
// the patient has not granted.
func applyConsentGate(snap *Snapshot, attrCtx *model.AttributeContext, outcome Outcome) Outcome {
	scope, required := snap.ConsentScopeFor(attrCtx.Resource.ResourceType, attrCtx.Action)
	if !required {
		return outcome
	}
	outcome.RequiredScope = scope

	if attrCtx.Consent.Status(scope) == model.ConsentGiven {
		return outcome
	}
	if auditExportCarveOut(attrCtx) {
		return outcome
	}

	outcome.Verdict = model.VerdictDeny
	outcome.Reason = model.ReasonConsentNotGiven
	return outcome
}

// auditExportCarveOut covers the one sanctioned consent bypass outside of
// emergencies: a SuperAdmin exporting the audit trail for compliance.
func auditExportCarveOut(attrCtx *model.AttributeContext) bool {
	return attrCtx.Principal.Role == model.RoleSuperAdmin &&
		attrCtx.Resource.ResourceType == model.ResourceAuditLog &&
		attrCtx.Action == "export"
}

// mostSpecific picks the narrowest rule; ties go to the earliest-loaded
// rule (lowest position). Rules arrive position-sorted from the snapshot,
// so a strict greater-than keeps the first of equals.
func mostSpecific(rules []*CompiledRule) *CompiledRule {
	best := rules[0]
	for _, rule := range rules[1:] {
		if rule.Specificity > best.Specificity {
			best = rule
		}
	}
	return best
}
