package auth

import (
	"path"
	"slices"

	"mcpgate/internal/config"
	"mcpgate/pkg/logging"
)

// Decision is the outcome of evaluating the policy set.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionDeny
	DecisionNoMatch
)

// Policy is one ordered allow/deny rule. Roles and Resources default to
// ["*"]. Resource patterns take the forms "tool:<name>", "server:<name>",
// "group:<name>", or "*", with glob matching on the name part.
type Policy struct {
	Effect      string
	Roles       []string
	Resources   []string
	Description string
}

// matches reports whether this rule applies to the given roles and
// resource string.
func (p *Policy) matches(roles []string, resource string) bool {
	roleMatch := slices.Contains(p.Roles, "*")
	if !roleMatch {
		for _, role := range roles {
			if slices.Contains(p.Roles, role) {
				roleMatch = true
				break
			}
		}
	}
	if !roleMatch {
		return false
	}

	for _, pattern := range p.Resources {
		if pattern == "*" {
			return true
		}
		if ok, err := path.Match(pattern, resource); err == nil && ok {
			return true
		}
	}
	return false
}

// Authorizer evaluates the configured policy rules. A nil or empty
// Authorizer allows everything (authorization disabled).
type Authorizer struct {
	policies []Policy
}

// NewAuthorizer parses policy configuration. Invalid rules are skipped
// with a warning rather than failing startup.
func NewAuthorizer(cfg config.AuthorizationConfig) *Authorizer {
	policies := make([]Policy, 0, len(cfg.Policies))
	for _, pc := range cfg.Policies {
		if pc.Effect != "allow" && pc.Effect != "deny" {
			logging.Warn("Authz", "Skipping policy with invalid effect %q", pc.Effect)
			continue
		}
		policy := Policy{
			Effect:      pc.Effect,
			Roles:       pc.Roles,
			Resources:   pc.Resources,
			Description: pc.Description,
		}
		if len(policy.Roles) == 0 {
			policy.Roles = []string{"*"}
		}
		if len(policy.Resources) == 0 {
			policy.Resources = []string{"*"}
		}
		policies = append(policies, policy)
	}
	return &Authorizer{policies: policies}
}

// Enabled reports whether any policy rules are configured.
func (a *Authorizer) Enabled() bool {
	return a != nil && len(a.policies) > 0
}

// Evaluate checks the identity's roles against every rule for the given
// resource. Deny beats allow; when rules exist and none matches, the
// default is deny.
func (a *Authorizer) Evaluate(roles []string, resource string) Decision {
	if !a.Enabled() {
		return DecisionAllow
	}

	decision := DecisionNoMatch
	for i := range a.policies {
		policy := &a.policies[i]
		if !policy.matches(roles, resource) {
			continue
		}
		if policy.Effect == "deny" {
			return DecisionDeny
		}
		decision = DecisionAllow
	}

	if decision == DecisionNoMatch {
		return DecisionDeny
	}
	return decision
}

// EvaluateAny describes one request by several resource strings (its tool,
// its backend, its group) and evaluates the rules against all of them. A
// rule matching any candidate applies; deny beats allow; default deny when
// rules exist and nothing matches.
func (a *Authorizer) EvaluateAny(roles []string, resources []string) Decision {
	if !a.Enabled() {
		return DecisionAllow
	}

	decision := DecisionNoMatch
	for i := range a.policies {
		policy := &a.policies[i]
		matched := false
		for _, resource := range resources {
			if policy.matches(roles, resource) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if policy.Effect == "deny" {
			return DecisionDeny
		}
		decision = DecisionAllow
	}

	if decision == DecisionNoMatch {
		return DecisionDeny
	}
	return decision
}
