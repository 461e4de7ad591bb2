package registry

import (
	"context"
	"sync"
	"time"

	"mcpgate/internal/backend"
	"mcpgate/internal/config"
	"mcpgate/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

// capEntry is one registered capability. Hidden entries were removed from
// the client-visible catalog by a filter but keep their route so internal
// callers can still target them.
type capEntry struct {
	Capability
	hidden bool
}

// Registry aggregates capabilities from all attached backends. Discovery
// is single-writer: a full rebuild is computed and swapped in under the
// write lock, so readers always observe a consistent catalog.
type Registry struct {
	mu      sync.RWMutex
	policy  *ConflictPolicy
	entries map[Kind]map[string]*capEntry
	routes  map[Kind]RouteMap

	// updateChan signals the serving layer to re-publish capabilities.
	// Buffered with size 1; notifications coalesce.
	updateChan chan struct{}
}

// NewRegistry creates an empty registry with the given conflict policy.
func NewRegistry(policy *ConflictPolicy) *Registry {
	return &Registry{
		policy:     policy,
		entries:    emptyEntries(),
		routes:     emptyRoutes(),
		updateChan: make(chan struct{}, 1),
	}
}

func emptyEntries() map[Kind]map[string]*capEntry {
	return map[Kind]map[string]*capEntry{
		KindTool:     {},
		KindResource: {},
		KindPrompt:   {},
	}
}

func emptyRoutes() map[Kind]RouteMap {
	return map[Kind]RouteMap{
		KindTool:     {},
		KindResource: {},
		KindPrompt:   {},
	}
}

// fetchResult carries one backend's advertised capabilities.
type fetchResult struct {
	backend   string
	tools     []mcp.Tool
	resources []mcp.Resource
	prompts   []mcp.Prompt
}

// Discover fetches capabilities from every attached backend in parallel
// and rebuilds the catalog. A fetch failure for one kind is logged and
// does not abort the other kinds or backends. Returns an error only for a
// registration conflict under the error policy.
func (r *Registry) Discover(ctx context.Context, mgr *backend.Manager, cfgs map[string]config.BackendConfig) error {
	order := mgr.AttachOrder()

	results := make(map[string]*fetchResult, len(order))
	var resultsMu sync.Mutex

	g, fetchCtx := errgroup.WithContext(ctx)
	for _, name := range order {
		client, ok := mgr.Get(name)
		if !ok {
			continue
		}
		timeout := cfgs[name].Timeouts.CapFetch.Std()
		g.Go(func() error {
			result := fetchBackend(fetchCtx, name, client, timeout)
			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	entries := emptyEntries()
	routes := emptyRoutes()

	for _, name := range r.policy.orderedBackends(order) {
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

	counts := r.Counts()
	logging.Info("Registry", "Discovery complete: %d tools, %d resources, %d prompts from %d backends",
		counts.Tools, counts.Resources, counts.Prompts, len(results))

	r.notifyUpdate()
	return nil
}

// fetchBackend lists all three kinds from one backend, each under its own
// deadline. A timeout or error for one kind leaves that kind empty and
// does not abort the others.
func fetchBackend(ctx context.Context, name string, client backend.MCPClient, timeout time.Duration) *fetchResult {
	result := &fetchResult{backend: name}

	withDeadline := func(op func(context.Context) error) error {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return op(opCtx)
	}

	if err := withDeadline(func(c context.Context) error {
		tools, err := client.ListTools(c)
		result.tools = tools
		return err
	}); err != nil {
		logging.Warn("Registry", "Backend %s: tool listing failed: %v", name, err)
	}

	if err := withDeadline(func(c context.Context) error {
		resources, err := client.ListResources(c)
		result.resources = resources
		return err
	}); err != nil {
		logging.Debug("Registry", "Backend %s: resource listing failed (may be unsupported): %v", name, err)
	}

	if err := withDeadline(func(c context.Context) error {
		prompts, err := client.ListPrompts(c)
		result.prompts = prompts
		return err
	}); err != nil {
		logging.Debug("Registry", "Backend %s: prompt listing failed (may be unsupported): %v", name, err)
	}

	return result
}

// registerBackend runs the rename → filter → conflict pipeline for one
// backend's capabilities and stores the survivors.
func (r *Registry) registerBackend(entries map[Kind]map[string]*capEntry, routes map[Kind]RouteMap, result *fetchResult, cfg config.BackendConfig) error {
	for _, tool := range result.tools {
		name := tool.Name
		description := tool.Description
		if override, ok := cfg.ToolOverrides[tool.Name]; ok {
			if override.Name != "" {
				name = override.Name
			}
			if override.Description != "" {
				description = override.Description
			}
		}

		payload := tool
		payload.Description = description

		cap := Capability{
			Kind:     KindTool,
			Original: tool.Name,
			Backend:  result.backend,
			Tool:     &payload,
		}
		if err := r.register(entries, routes, cap, name, filterFor(cfg.Filters, KindTool)); err != nil {
			return err
		}
	}

	for _, resource := range result.resources {
		payload := resource
		cap := Capability{
			Kind:     KindResource,
			Original: resource.URI,
			Backend:  result.backend,
			Resource: &payload,
		}
		// Resources are identified by URI; the advertised name is only
		// used for filtering when present.
		filterName := resource.Name
		if filterName == "" {
			filterName = resource.URI
		}
		if err := r.registerFiltered(entries, routes, cap, resource.URI, allowed(filterFor(cfg.Filters, KindResource), filterName)); err != nil {
			return err
		}
	}

	for _, prompt := range result.prompts {
		payload := prompt
		cap := Capability{
			Kind:     KindPrompt,
			Original: prompt.Name,
			Backend:  result.backend,
			Prompt:   &payload,
		}
		if err := r.register(entries, routes, cap, prompt.Name, filterFor(cfg.Filters, KindPrompt)); err != nil {
			return err
		}
	}

	return nil
}

func (r *Registry) register(entries map[Kind]map[string]*capEntry, routes map[Kind]RouteMap, cap Capability, name string, filter config.KindFilter) error {
	return r.registerFiltered(entries, routes, cap, name, allowed(filter, name))
}

// registerFiltered applies the conflict policy and stores the capability.
// Filtered-out capabilities are registered hidden: absent from the catalog
// but present in the route map.
func (r *Registry) registerFiltered(entries map[Kind]map[string]*capEntry, routes map[Kind]RouteMap, cap Capability, name string, visible bool) error {
	kind := cap.Kind
	exposed := name
	if kind != KindResource {
		// Resource URIs are never prefixed; a rewritten URI would no
		// longer be addressable by the client.
		exposed = r.policy.preTransform(cap.Backend, name)
	}

	if holder, taken := routes[kind][exposed]; taken && holder.Backend != cap.Backend {
		outcome, replacement, err := r.policy.resolve(kind, exposed, cap.Backend, holder.Backend)
		if err != nil {
			return err
		}
		switch outcome {
		case decideDrop:
			return nil
		case decideRename:
			if _, occupied := routes[kind][replacement]; occupied {
				logging.Warn("Registry", "Residual conflict: %s %q from %s collides with existing entry, dropping",
					kind, replacement, cap.Backend)
				return nil
			}
			exposed = replacement
		case decideReplace:
			// Evict the holder and re-register it under the loser name,
			// unless that name is taken too; then the loser drops.
			loser := entries[kind][exposed]
			delete(entries[kind], exposed)
			delete(routes[kind], exposed)
			if loser != nil {
				if _, occupied := routes[kind][replacement]; occupied {
					logging.Warn("Registry", "Residual conflict: %s %q from %s collides with existing entry, dropping",
						kind, replacement, loser.Backend)
				} else {
					relocated := *loser
					relocated.Exposed = replacement
					rewritePayload(&relocated.Capability, replacement)
					entries[kind][replacement] = &relocated
					routes[kind][replacement] = Route{Backend: loser.Backend, Original: loser.Original}
				}
			}
		}
	} else if taken {
		// Same backend advertising the same name twice; keep the first.
		return nil
	}

	cap.Exposed = exposed
	rewritePayload(&cap, exposed)

	routes[kind][exposed] = Route{Backend: cap.Backend, Original: cap.Original}
	entries[kind][exposed] = &capEntry{Capability: cap, hidden: !visible}

	if !visible {
		logging.Debug("Registry", "%s %q from backend %s hidden by filter (route retained)",
			kind, exposed, cap.Backend)
	}
	return nil
}

// rewritePayload updates the advertised payload to carry the exposed name.
func rewritePayload(cap *Capability, exposed string) {
	switch cap.Kind {
	case KindTool:
		if cap.Tool != nil {
			cap.Tool.Name = exposed
		}
	case KindResource:
		if cap.Resource != nil {
			cap.Resource.URI = exposed
		}
	case KindPrompt:
		if cap.Prompt != nil {
			cap.Prompt.Name = exposed
		}
	}
}

// Resolve maps an exposed name to its route. Hidden capabilities resolve
// too; only the catalog hides them.
func (r *Registry) Resolve(kind Kind, exposed string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[kind][exposed]
	return route, ok
}

// Tools returns the client-visible tool catalog.
func (r *Registry) Tools() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.entries[KindTool]))
	for _, entry := range r.entries[KindTool] {
		if !entry.hidden && entry.Tool != nil {
			out = append(out, *entry.Tool)
		}
	}
	return out
}

// Resources returns the client-visible resource catalog.
func (r *Registry) Resources() []mcp.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Resource, 0, len(r.entries[KindResource]))
	for _, entry := range r.entries[KindResource] {
		if !entry.hidden && entry.Resource != nil {
			out = append(out, *entry.Resource)
		}
	}
	return out
}

// Prompts returns the client-visible prompt catalog.
func (r *Registry) Prompts() []mcp.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Prompt, 0, len(r.entries[KindPrompt]))
	for _, entry := range r.entries[KindPrompt] {
		if !entry.hidden && entry.Prompt != nil {
			out = append(out, *entry.Prompt)
		}
	}
	return out
}

// Counts returns visible catalog sizes per kind.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := Counts{}
	for _, entry := range r.entries[KindTool] {
		if !entry.hidden {
			counts.Tools++
		}
	}
	for _, entry := range r.entries[KindResource] {
		if !entry.hidden {
			counts.Resources++
		}
	}
	for _, entry := range r.entries[KindPrompt] {
		if !entry.hidden {
			counts.Prompts++
		}
	}
	return counts
}

// Snapshot returns copies of all route maps for session freezing. The
// returned maps are never mutated by the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Tools:     r.routes[KindTool].clone(),
		Resources: r.routes[KindResource].clone(),
		Prompts:   r.routes[KindPrompt].clone(),
	}
}

// Updates returns the channel signalled after each completed discovery.
func (r *Registry) Updates() <-chan struct{} {
	return r.updateChan
}

func (r *Registry) notifyUpdate() {
	select {
	case r.updateChan <- struct{}{}:
	default:
		// A notification is already pending.
	}
}
