package policy

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
)

// CompiledRule is a policy rule with its condition parsed and its
// specificity precomputed.
type CompiledRule struct {
	ID           uuid.UUID
	ResourceType string
	Action       string
	Role         string
	Condition    *Condition
	Effect       model.RuleEffect
	Description  string
	Specificity  int
	Position     int
}

func (r *CompiledRule) matches(resourceType, action string) bool {
	if r.ResourceType != model.Wildcard && r.ResourceType != resourceType {
		return false
	}
	if r.Action != model.Wildcard && r.Action != action {
		return false
	}
	return true
}

// Snapshot is one immutable generation of the rule set. Role inheritance
// is flattened at build time: every rule is indexed under each concrete
// role it applies to, so evaluation never walks a hierarchy. A hot reload
// builds a fresh snapshot and swaps a pointer; a snapshot is never
// mutated after Build returns it.
type Snapshot struct {
	Version     int64
	rulesByRole map[model.Role][]*CompiledRule
	consentReqs map[string]model.ConsentScope
	ruleCount   int
}

func consentKey(resourceType, action string) string {
	return resourceType + "|" + action
}

// Build compiles rules, inheritance edges and consent requirements into a
// snapshot. Rules with malformed conditions fail the whole build: a rule
// set that cannot be fully compiled is never served.
func Build(version int64, rules []*model.PolicyRule, inheritance []*model.RoleInheritance, requirements []*model.ConsentRequirement) (*Snapshot, error) {
	// Transitive closure of the inheritance edges: ancestors[r] is every
	// role whose rules r inherits.
	parents := make(map[string][]string)
	for _, edge := range inheritance {
		parents[edge.Role] = append(parents[edge.Role], edge.Parent)
	}
	ancestors := func(role string) map[string]struct{} {
		seen := map[string]struct{}{role: {}}
		stack := []string{role}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, p := range parents[cur] {
				if _, ok := seen[p]; !ok {
					seen[p] = struct{}{}
					stack = append(stack, p)
				}
			}
		}
		return seen
	}

	compiled := make([]*CompiledRule, 0, len(rules))
	for _, rule := range rules {
		cond, err := ParseCondition(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		cr := &CompiledRule{
			ID:           rule.ID,
			ResourceType: rule.ResourceType,
			Action:       rule.Action,
			Role:         rule.Role,
			Condition:    cond,
			Effect:       rule.Effect,
			Description:  rule.Description,
			Specificity:  specificity(rule, cond),
			Position:     rule.Position,
		}
		compiled = append(compiled, cr)
	}

	byRole := make(map[model.Role][]*CompiledRule)
	for role := range allRoles() {
		effective := ancestors(string(role))
		for _, cr := range compiled {
			if cr.Role == model.Wildcard {
				byRole[role] = append(byRole[role], cr)
				continue
			}
			if _, ok := effective[cr.Role]; ok {
				byRole[role] = append(byRole[role], cr)
			}
		}
		sort.SliceStable(byRole[role], func(i, j int) bool {
			return byRole[role][i].Position < byRole[role][j].Position
		})
	}

	reqs := make(map[string]model.ConsentScope, len(requirements))
	for _, req := range requirements {
		if !req.Scope.Valid() {
			return nil, fmt.Errorf("consent requirement %s/%s: invalid scope %q", req.ResourceType, req.Action, req.Scope)
		}
		reqs[consentKey(req.ResourceType, req.Action)] = req.Scope
	}

	return &Snapshot{
		Version:     version,
		rulesByRole: byRole,
		consentReqs: reqs,
		ruleCount:   len(compiled),
	}, nil
}

func allRoles() map[model.Role]struct{} {
	return map[model.Role]struct{}{
		model.RoleSuperAdmin:        {},
		model.RoleAdmin:             {},
		model.RoleDoctor:            {},
		model.RoleNurse:             {},
		model.RolePharmacist:        {},
		model.RoleReceptionist:      {},
		model.RoleDataManager:       {},
		model.RoleComplianceOfficer: {},
	}
}

// specificity ranks how narrowly a rule is scoped. Non-wildcard columns
// count one each; a condition counts two because it constrains further
// than any column match.
func specificity(rule *model.PolicyRule, cond *Condition) int {
	s := 0
	if rule.ResourceType != model.Wildcard {
		s++
	}
	if rule.Action != model.Wildcard {
		s++
	}
	if rule.Role != model.Wildcard {
		s++
	}
	if cond != nil {
		s += 2
	}
	return s
}

// RulesFor returns the candidate rules for a (resource_type, action, role)
// triple, in load order.
func (s *Snapshot) RulesFor(resourceType, action string, role model.Role) []*CompiledRule {
	candidates := s.rulesByRole[role]
	var out []*CompiledRule
	for _, r := range candidates {
		if r.matches(resourceType, action) {
			out = append(out, r)
		}
	}
	return out
}

// ConsentScopeFor reports the consent scope an action needs, if any.
func (s *Snapshot) ConsentScopeFor(resourceType, action string) (model.ConsentScope, bool) {
	if scope, ok := s.consentReqs[consentKey(resourceType, action)]; ok {
		return scope, true
	}
	scope, ok := s.consentReqs[consentKey(model.Wildcard, action)]
	return scope, ok
}

// RuleCount reports how many rules the snapshot compiled.
func (s *Snapshot) RuleCount() int {
	return s.ruleCount
}

// Store holds the active snapshot behind an atomic pointer. In-flight
// evaluations keep the generation they started with; Reload swaps the
// pointer for later calls.
type Store struct {
	repo    repository.PolicyRepository
	logger  zerolog.Logger
	current atomic.Pointer[Snapshot]
}

func NewStore(repo repository.PolicyRepository, logger zerolog.Logger) *Store {
	return &Store{repo: repo, logger: logger}
}

// Current returns the active snapshot, or nil before the first load.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload builds a snapshot from the repository and swaps it in.
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	version, err := s.repo.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy version: %w", err)
	}
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy rules: %w", err)
	}
	inheritance, err := s.repo.ListRoleInheritance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load role inheritance: %w", err)
	}
	requirements, err := s.repo.ListConsentRequirements(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load consent requirements: %w", err)
	}

	snap, err := Build(version, rules, inheritance, requirements)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy snapshot: %w", err)
	}

	s.current.Store(snap)
	s.logger.Info().
		Int64("version", snap.Version).
		Int("rules", snap.RuleCount()).
		Msg("policy snapshot loaded")
	return snap, nil
}

// Set installs a prebuilt snapshot. Used by tests and the initial load.
func (s *Store) Set(snap *Snapshot) {
	s.current.Store(snap)
}
