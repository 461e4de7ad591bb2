// Package registry implements the capability registry: discovery of tools,
// resources, and prompts from attached backends, per-backend rename and
// filter, conflict resolution between backends, and the route maps that
// the forwarder consults at request time.
package registry

import "github.com/mark3labs/mcp-go/mcp"

// Kind identifies a capability class.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Route is the forwarding target of an exposed name: the backend that owns
// the capability and the identifier the backend advertised for it (the
// original name for tools and prompts, the URI for resources).
type Route struct {
	Backend  string
	Original string
}

// RouteMap maps exposed names to routes. One per kind.
type RouteMap map[string]Route

// clone returns a copy that later registry mutations cannot touch.
func (m RouteMap) clone() RouteMap {
	out := make(RouteMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Capability is one registered catalog entry. Exactly one of Tool,
// Resource, Prompt carries the advertised payload, already rewritten to
// the exposed name.
type Capability struct {
	Kind     Kind
	Exposed  string
	Original string
	Backend  string

	Tool     *mcp.Tool
	Resource *mcp.Resource
	Prompt   *mcp.Prompt
}

// Snapshot is a frozen, copied view of the registry's route maps taken for
// a client session. It never mutates after creation.
type Snapshot struct {
	Tools     RouteMap
	Resources RouteMap
	Prompts   RouteMap
}

// Counts reports catalog sizes per kind for observability.
type Counts struct {
	Tools     int
	Resources int
	Prompts   int
}

// Resolve looks up an exposed name in the snapshot for the given kind.
func (s Snapshot) Resolve(kind Kind, exposed string) (Route, bool) {
	switch kind {
	case KindTool:
		r, ok := s.Tools[exposed]
		return r, ok
	case KindResource:
		r, ok := s.Resources[exposed]
		return r, ok
	case KindPrompt:
		r, ok := s.Prompts[exposed]
		return r, ok
	default:
		return Route{}, false
	}
}
