package auth

import (
	"testing"

	"mcpgate/internal/config"

	"github.com/stretchr/testify/assert"
)

func policies(pcs ...config.PolicyConfig) *Authorizer {
	return NewAuthorizer(config.AuthorizationConfig{Policies: pcs})
}

func TestAuthorizer_NilAndEmptyAllowEverything(t *testing.T) {
	var nilAuthorizer *Authorizer
	assert.False(t, nilAuthorizer.Enabled())
	assert.Equal(t, DecisionAllow, nilAuthorizer.Evaluate([]string{"any"}, "tool:x"))

	empty := policies()
	assert.False(t, empty.Enabled())
	assert.Equal(t, DecisionAllow, empty.Evaluate(nil, "tool:x"))
}

func TestAuthorizer_InvalidEffectIsSkipped(t *testing.T) {
	a := policies(
		config.PolicyConfig{Effect: "permit", Resources: []string{"*"}},
	)
	assert.False(t, a.Enabled(), "a rule with an unknown effect must not count")
}

func TestAuthorizer_AllowMatchingRole(t *testing.T) {
	a := policies(config.PolicyConfig{
		Effect:    "allow",
		Roles:     []string{"dev"},
		Resources: []string{"tool:search"},
	})

	assert.Equal(t, DecisionAllow, a.Evaluate([]string{"dev"}, "tool:search"))
	assert.Equal(t, DecisionDeny, a.Evaluate([]string{"ops"}, "tool:search"))
	assert.Equal(t, DecisionDeny, a.Evaluate(nil, "tool:search"))
}

func TestAuthorizer_DefaultDenyWhenRulesExist(t *testing.T) {
	a := policies(config.PolicyConfig{
		Effect:    "allow",
		Roles:     []string{"dev"},
		Resources: []string{"tool:search"},
	})
	assert.Equal(t, DecisionDeny, a.Evaluate([]string{"dev"}, "tool:deploy"))
}

func TestAuthorizer_DenyBeatsAllow(t *testing.T) {
	a := policies(
		config.PolicyConfig{Effect: "allow", Resources: []string{"*"}},
		config.PolicyConfig{Effect: "deny", Roles: []string{"intern"}, Resources: []string{"tool:deploy"}},
	)

	assert.Equal(t, DecisionDeny, a.Evaluate([]string{"intern"}, "tool:deploy"))
	assert.Equal(t, DecisionAllow, a.Evaluate([]string{"dev"}, "tool:deploy"))
	assert.Equal(t, DecisionAllow, a.Evaluate([]string{"intern"}, "tool:search"))
}

func TestAuthorizer_EmptyRoleAndResourceListsDefaultToWildcard(t *testing.T) {
	a := policies(config.PolicyConfig{Effect: "allow"})

	assert.Equal(t, DecisionAllow, a.Evaluate(nil, "tool:anything"))
	assert.Equal(t, DecisionAllow, a.Evaluate([]string{"whoever"}, "server:github"))
}

func TestAuthorizer_GlobPatterns(t *testing.T) {
	a := policies(config.PolicyConfig{
		Effect:    "allow",
		Resources: []string{"tool:read_*", "server:gh-*"},
	})

	assert.Equal(t, DecisionAllow, a.Evaluate(nil, "tool:read_file"))
	assert.Equal(t, DecisionAllow, a.Evaluate(nil, "server:gh-prod"))
	assert.Equal(t, DecisionDeny, a.Evaluate(nil, "tool:write_file"))
}

func TestAuthorizer_EvaluateAny(t *testing.T) {
	a := policies(
		config.PolicyConfig{Effect: "allow", Resources: []string{"group:prod"}},
		config.PolicyConfig{Effect: "deny", Roles: []string{"intern"}, Resources: []string{"server:admin-tools"}},
	)

	// Allowed through the group candidate.
	assert.Equal(t, DecisionAllow,
		a.EvaluateAny([]string{"dev"}, []string{"tool:search", "server:github", "group:prod"}))

	// The deny rule matching one candidate vetoes the allow on another.
	assert.Equal(t, DecisionDeny,
		a.EvaluateAny([]string{"intern"}, []string{"tool:reset", "server:admin-tools", "group:prod"}))

	// Nothing matches: default deny.
	assert.Equal(t, DecisionDeny,
		a.EvaluateAny([]string{"dev"}, []string{"tool:other", "server:other", "group:dev"}))
}

func TestAuthorizer_EvaluateAnyDisabled(t *testing.T) {
	assert.Equal(t, DecisionAllow, policies().EvaluateAny(nil, []string{"tool:x"}))
}
