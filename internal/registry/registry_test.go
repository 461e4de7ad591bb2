package registry

import (
	"testing"

	"mcpgate/internal/config"
	"mcpgate/internal/gwerrors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPolicy(t *testing.T, strategy string, order ...string) *ConflictPolicy {
	t.Helper()
	policy, err := NewConflictPolicy(config.ConflictPolicyConfig{
		Strategy: strategy,
		Order:    order,
	})
	require.NoError(t, err)
	return policy
}

// rebuild replicates the Discover registration loop with pre-fetched
// results, so conflict behavior can be tested without live backends.
func rebuild(t *testing.T, r *Registry, attachOrder []string, results map[string]*fetchResult, cfgs map[string]config.BackendConfig) error {
	t.Helper()
	entries := emptyEntries()
	routes := emptyRoutes()
	for _, name := range r.policy.orderedBackends(attachOrder) {
		result, ok := results[name]
		if !ok {
			continue
		}
		if err := r.registerBackend(entries, routes, result, cfgs[name]); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.entries = entries
	r.routes = routes
	r.mu.Unlock()
	return nil
}

func toolResult(backend string, names ...string) *fetchResult {
	result := &fetchResult{backend: backend}
	for _, name := range names {
		result.tools = append(result.tools, mcp.Tool{Name: name, Description: "d"})
	}
	return result
}

func TestRegistry_FirstWinsDropsLater(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	err := rebuild(t, r,
		[]string{"alpha", "beta"},
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search"),
			"beta":  toolResult("beta", "search", "analyze"),
		},
		map[string]config.BackendConfig{},
	)
	require.NoError(t, err)

	route, ok := r.Resolve(KindTool, "search")
	require.True(t, ok)
	assert.Equal(t, "alpha", route.Backend)
	assert.Equal(t, "search", route.Original)

	tools := r.Tools()
	assert.Len(t, tools, 2) // search (alpha) + analyze (beta)
}

func TestRegistry_PrefixAlwaysTransforms(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictPrefix))

	err := rebuild(t, r,
		[]string{"alpha", "beta"},
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search"),
			"beta":  toolResult("beta", "search"),
		},
		map[string]config.BackendConfig{},
	)
	require.NoError(t, err)

	// Both survive under prefixed names; the bare name resolves nowhere.
	_, ok := r.Resolve(KindTool, "search")
	assert.False(t, ok)

	routeA, ok := r.Resolve(KindTool, "alpha_search")
	require.True(t, ok)
	assert.Equal(t, "alpha", routeA.Backend)
	assert.Equal(t, "search", routeA.Original, "route must carry the backend's original name")

	routeB, ok := r.Resolve(KindTool, "beta_search")
	require.True(t, ok)
	assert.Equal(t, "beta", routeB.Backend)

	// Advertised payloads carry the exposed names.
	names := make(map[string]bool)
	for _, tool := range r.Tools() {
		names[tool.Name] = true
	}
	assert.True(t, names["alpha_search"])
	assert.True(t, names["beta_search"])
}

func TestRegistry_PriorityWinnerKeepsBareName(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictPriority, "beta", "alpha"))

	err := rebuild(t, r,
		[]string{"alpha", "beta"}, // attach order differs from priority order
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search"),
			"beta":  toolResult("beta", "search"),
		},
		map[string]config.BackendConfig{},
	)
	require.NoError(t, err)

	route, ok := r.Resolve(KindTool, "search")
	require.True(t, ok)
	assert.Equal(t, "beta", route.Backend, "higher priority backend owns the bare name")

	renamed, ok := r.Resolve(KindTool, "alpha_search")
	require.True(t, ok)
	assert.Equal(t, "alpha", renamed.Backend)
	assert.Equal(t, "search", renamed.Original)
}

func TestConflictPolicy_PriorityReplaceBranch(t *testing.T) {
	// When a higher-priority backend collides with an already-registered
	// lower-priority holder, the holder is evicted and renamed.
	policy := newPolicy(t, config.ConflictPriority, "beta", "alpha")

	outcome, replacement, err := policy.resolve(KindTool, "search", "beta", "alpha")
	require.NoError(t, err)
	assert.Equal(t, decideReplace, outcome)
	assert.Equal(t, "alpha_search", replacement)

	outcome, replacement, err = policy.resolve(KindTool, "search", "alpha", "beta")
	require.NoError(t, err)
	assert.Equal(t, decideRename, outcome)
	assert.Equal(t, "alpha_search", replacement)
}

func TestConflictPolicy_UnlistedBackendLoses(t *testing.T) {
	policy := newPolicy(t, config.ConflictPriority, "beta")

	outcome, _, err := policy.resolve(KindTool, "search", "unlisted", "beta")
	require.NoError(t, err)
	assert.Equal(t, decideRename, outcome)
}

func TestRegistry_ErrorStrategyFailsStartup(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictError))

	err := rebuild(t, r,
		[]string{"alpha", "beta"},
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search"),
			"beta":  toolResult("beta", "search"),
		},
		map[string]config.BackendConfig{},
	)
	require.Error(t, err)
	var conflictErr *gwerrors.ConflictError
	assert.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "search", conflictErr.Name)
}

func TestRegistry_SameBackendDuplicateKeepsFirst(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	err := rebuild(t, r,
		[]string{"alpha"},
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search", "search"),
		},
		map[string]config.BackendConfig{},
	)
	require.NoError(t, err)
	assert.Len(t, r.Tools(), 1)
}

func TestRegistry_DenyFilterHidesButRoutes(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	cfgs := map[string]config.BackendConfig{
		"alpha": {
			Filters: config.FiltersConfig{
				Tools: config.KindFilter{Deny: []string{"internal_*"}},
			},
		},
	}

	err := rebuild(t, r,
		[]string{"alpha"},
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search", "internal_reset"),
		},
		cfgs,
	)
	require.NoError(t, err)

	// Hidden from the catalog.
	assert.Len(t, r.Tools(), 1)
	assert.Equal(t, 1, r.Counts().Tools)

	// But still routable.
	route, ok := r.Resolve(KindTool, "internal_reset")
	require.True(t, ok)
	assert.Equal(t, "alpha", route.Backend)
}

func TestRegistry_AllowFilterRequiresMatch(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	cfgs := map[string]config.BackendConfig{
		"alpha": {
			Filters: config.FiltersConfig{
				Tools: config.KindFilter{Allow: []string{"search*"}},
			},
		},
	}

	err := rebuild(t, r,
		[]string{"alpha"},
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search", "search_web", "analyze"),
		},
		cfgs,
	)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Counts().Tools)
}

func TestRegistry_ToolOverridesApplyBeforeConflict(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	cfgs := map[string]config.BackendConfig{
		"alpha": {
			ToolOverrides: map[string]config.ToolOverride{
				"search": {Name: "web_search", Description: "renamed"},
			},
		},
	}

	err := rebuild(t, r,
		[]string{"alpha"},
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search"),
		},
		cfgs,
	)
	require.NoError(t, err)

	route, ok := r.Resolve(KindTool, "web_search")
	require.True(t, ok)
	assert.Equal(t, "search", route.Original, "forwarding uses the backend's original name")

	tools := r.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "web_search", tools[0].Name)
	assert.Equal(t, "renamed", tools[0].Description)
}

func TestRegistry_ResourcesKeyedByURI(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	result := &fetchResult{
		backend: "alpha",
		resources: []mcp.Resource{
			{URI: "file:///data/report.txt", Name: "report"},
		},
	}

	err := rebuild(t, r,
		[]string{"alpha"},
		map[string]*fetchResult{"alpha": result},
		map[string]config.BackendConfig{},
	)
	require.NoError(t, err)

	route, ok := r.Resolve(KindResource, "file:///data/report.txt")
	require.True(t, ok)
	assert.Equal(t, "file:///data/report.txt", route.Original)
}

func resourceResult(backend string, uris ...string) *fetchResult {
	result := &fetchResult{backend: backend}
	for _, uri := range uris {
		result.resources = append(result.resources, mcp.Resource{URI: uri, Name: uri})
	}
	return result
}

func TestRegistry_PrefixNeverRewritesResourceURIs(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictPrefix))

	err := rebuild(t, r,
		[]string{"alpha", "beta"},
		map[string]*fetchResult{
			"alpha": resourceResult("alpha", "file:///data/x"),
			"beta":  resourceResult("beta", "file:///data/x", "file:///data/y"),
		},
		map[string]config.BackendConfig{},
	)
	require.NoError(t, err)

	// The colliding URI stays bare and routes to the first backend.
	route, ok := r.Resolve(KindResource, "file:///data/x")
	require.True(t, ok)
	assert.Equal(t, "alpha", route.Backend)
	assert.Equal(t, "file:///data/x", route.Original)

	_, ok = r.Resolve(KindResource, "alpha_file:///data/x")
	assert.False(t, ok, "resource URIs must never be prefixed")
	_, ok = r.Resolve(KindResource, "beta_file:///data/x")
	assert.False(t, ok, "resource URIs must never be prefixed")

	// Non-colliding URIs register untouched.
	route, ok = r.Resolve(KindResource, "file:///data/y")
	require.True(t, ok)
	assert.Equal(t, "beta", route.Backend)

	for _, res := range r.Resources() {
		assert.NotContains(t, res.URI, "_file://")
	}
}

func TestRegistry_PriorityResourceConflictKeepsWinner(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictPriority, "beta", "alpha"))

	err := rebuild(t, r,
		[]string{"alpha", "beta"},
		map[string]*fetchResult{
			"alpha": resourceResult("alpha", "file:///data/x"),
			"beta":  resourceResult("beta", "file:///data/x"),
		},
		map[string]config.BackendConfig{},
	)
	require.NoError(t, err)

	// Priority order registers beta first, so beta owns the URI and the
	// alpha copy drops instead of being renamed.
	route, ok := r.Resolve(KindResource, "file:///data/x")
	require.True(t, ok)
	assert.Equal(t, "beta", route.Backend)
	assert.Equal(t, 1, r.Counts().Resources)
}

func TestRegistry_ResourceConflictErrorStrategyFails(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictError))

	err := rebuild(t, r,
		[]string{"alpha", "beta"},
		map[string]*fetchResult{
			"alpha": resourceResult("alpha", "file:///data/x"),
			"beta":  resourceResult("beta", "file:///data/x"),
		},
		map[string]config.BackendConfig{},
	)
	require.Error(t, err)
	var conflictErr *gwerrors.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "file:///data/x", conflictErr.Name)
}

func TestRegistry_RenameResidualConflictDrops(t *testing.T) {
	// beta outranks alpha and also advertises the very name alpha's losing
	// entry would be renamed to. The rename target is taken, so the alpha
	// entry drops instead of overwriting beta's.
	r := NewRegistry(newPolicy(t, config.ConflictPriority, "beta", "alpha"))

	err := rebuild(t, r,
		[]string{"alpha", "beta"},
		map[string]*fetchResult{
			"alpha": toolResult("alpha", "search"),
			"beta":  toolResult("beta", "search", "alpha_search"),
		},
		map[string]config.BackendConfig{},
	)
	require.NoError(t, err)

	route, ok := r.Resolve(KindTool, "search")
	require.True(t, ok)
	assert.Equal(t, "beta", route.Backend)

	route, ok = r.Resolve(KindTool, "alpha_search")
	require.True(t, ok)
	assert.Equal(t, "beta", route.Backend, "existing entry must not be overwritten by a renamed loser")
	assert.Equal(t, "alpha_search", route.Original)

	assert.Len(t, r.Tools(), 2)
}

func TestRegistry_ReplaceResidualConflictDropsLoser(t *testing.T) {
	// Register directly so a lower-priority holder exists before the
	// winner arrives: alpha holds "search", gamma holds "alpha_search",
	// then beta (top priority) claims "search". Alpha's entry would be
	// renamed to "alpha_search", which gamma already owns, so it drops.
	r := NewRegistry(newPolicy(t, config.ConflictPriority, "beta", "alpha", "gamma"))

	entries := emptyEntries()
	routes := emptyRoutes()
	regTool := func(backend, name string) {
		t.Helper()
		payload := mcp.Tool{Name: name, Description: "d"}
		cap := Capability{Kind: KindTool, Original: name, Backend: backend, Tool: &payload}
		require.NoError(t, r.registerFiltered(entries, routes, cap, name, true))
	}
	regTool("alpha", "search")
	regTool("gamma", "alpha_search")
	regTool("beta", "search")

	assert.Equal(t, Route{Backend: "beta", Original: "search"}, routes[KindTool]["search"])
	assert.Equal(t, Route{Backend: "gamma", Original: "alpha_search"}, routes[KindTool]["alpha_search"],
		"evicted holder must not overwrite an existing entry")
	assert.Len(t, routes[KindTool], 2)
	assert.Len(t, entries[KindTool], 2)
}

func TestRegistry_ResourceFilterMatchesName(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	cfgs := map[string]config.BackendConfig{
		"alpha": {
			Filters: config.FiltersConfig{
				Resources: config.KindFilter{Deny: []string{"secret*"}},
			},
		},
	}

	result := &fetchResult{
		backend: "alpha",
		resources: []mcp.Resource{
			{URI: "file:///a", Name: "secret-keys"},
			{URI: "file:///b", Name: "public-data"},
		},
	}

	err := rebuild(t, r,
		[]string{"alpha"},
		map[string]*fetchResult{"alpha": result},
		cfgs,
	)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Counts().Resources)
}

func TestRegistry_SnapshotIsFrozen(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	require.NoError(t, rebuild(t, r,
		[]string{"alpha"},
		map[string]*fetchResult{"alpha": toolResult("alpha", "search")},
		map[string]config.BackendConfig{},
	))

	snapshot := r.Snapshot()
	route, ok := snapshot.Resolve(KindTool, "search")
	require.True(t, ok)
	assert.Equal(t, "alpha", route.Backend)

	// A rebuild that drops the tool must not affect the taken snapshot.
	require.NoError(t, rebuild(t, r,
		[]string{"alpha"},
		map[string]*fetchResult{"alpha": toolResult("alpha", "analyze")},
		map[string]config.BackendConfig{},
	))

	_, ok = r.Resolve(KindTool, "search")
	assert.False(t, ok, "live registry forgot the tool")

	_, ok = snapshot.Resolve(KindTool, "search")
	assert.True(t, ok, "frozen snapshot still routes the tool")
}

func TestRegistry_UpdateNotificationCoalesces(t *testing.T) {
	r := NewRegistry(newPolicy(t, config.ConflictFirstWins))

	r.notifyUpdate()
	r.notifyUpdate()
	r.notifyUpdate()

	select {
	case <-r.Updates():
	default:
		t.Fatal("expected a pending update notification")
	}
	select {
	case <-r.Updates():
		t.Fatal("notifications must coalesce into one")
	default:
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name   string
		filter config.KindFilter
		cap    string
		want   bool
	}{
		{"no filter admits all", config.KindFilter{}, "anything", true},
		{"deny wins", config.KindFilter{Allow: []string{"*"}, Deny: []string{"x*"}}, "xray", false},
		{"allow required when set", config.KindFilter{Allow: []string{"a*"}}, "beta", false},
		{"allow match", config.KindFilter{Allow: []string{"a*"}}, "alpha", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allowed(tt.filter, tt.cap))
		})
	}
}
