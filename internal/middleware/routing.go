package middleware

import (
	"context"
	"fmt"

	"mcpgate/internal/backend"
	"mcpgate/internal/gwerrors"
	"mcpgate/internal/health"
	"mcpgate/internal/registry"
	"mcpgate/pkg/logging"
)

// SessionSource yields live backend sessions by name. *backend.Manager
// satisfies it.
type SessionSource interface {
	Get(name string) (backend.MCPClient, bool)
}

// Router is the terminal layer: it resolves the exposed name to a route,
// consults the circuit breaker, obtains the session, and dispatches the
// backend call. Request failures feed the breaker.
type Router struct {
	sessions SessionSource
	registry *registry.Registry
	monitor  *health.Monitor
}

// NewRouter builds the terminal routing handler.
func NewRouter(sessions SessionSource, reg *registry.Registry, monitor *health.Monitor) *Router {
	return &Router{
		sessions: sessions,
		registry: reg,
		monitor:  monitor,
	}
}

// Handle implements the forwarder.
func (r *Router) Handle(ctx context.Context, rc *RequestContext) (interface{}, error) {
	kind, err := kindForAllowedMethod(rc.Method)
	if err != nil {
		return nil, err
	}

	route, ok := r.resolve(rc, kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", gwerrors.ErrCapabilityNotFound, kind, rc.Capability)
	}
	rc.ServerName = route.Backend
	rc.OriginalName = route.Original

	breaker := r.monitor.Breaker(route.Backend)
	if !breaker.AllowsRequest() {
		logging.Debug("Router", "Request %s rejected: circuit for %s is %s", rc.ID, route.Backend, breaker.State())
		return nil, fmt.Errorf("%w: %s", gwerrors.ErrBackendUnavailable, route.Backend)
	}

	session, ok := r.sessions.Get(route.Backend)
	if !ok {
		// The breaker admitted the request but the session is gone; count
		// it as a failure so the circuit reflects reality.
		breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %s", gwerrors.ErrBackendDisconnected, route.Backend)
	}

	result, err := r.dispatch(ctx, session, rc, route)
	if err != nil {
		breaker.RecordFailure()
		return nil, &gwerrors.CallError{Backend: route.Backend, Method: rc.Method, Err: err}
	}

	breaker.RecordSuccess()
	return result, nil
}

// resolve prefers the session's frozen snapshot; requests without a
// session consult the live registry.
func (r *Router) resolve(rc *RequestContext, kind registry.Kind) (registry.Route, bool) {
	if rc.Routes != nil {
		return rc.Routes.Resolve(kind, rc.Capability)
	}
	return r.registry.Resolve(kind, rc.Capability)
}

// dispatch invokes the session method matching rc.Method with the
// backend's original identifier. Results are validated per method; a nil
// result of the expected variant is an invalid backend response.
func (r *Router) dispatch(ctx context.Context, session backend.MCPClient, rc *RequestContext, route registry.Route) (interface{}, error) {
	switch rc.Method {
	case MethodCallTool:
		result, err := session.CallTool(ctx, route.Original, rc.Arguments)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, gwerrors.ErrInvalidBackendResponse
		}
		return result, nil

	case MethodReadResource:
		result, err := session.ReadResource(ctx, route.Original)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, gwerrors.ErrInvalidBackendResponse
		}
		return result, nil

	case MethodGetPrompt:
		result, err := session.GetPrompt(ctx, route.Original, rc.Arguments)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, gwerrors.ErrInvalidBackendResponse
		}
		return result, nil

	default:
		return nil, fmt.Errorf("%w: %s", gwerrors.ErrMethodNotAllowed, rc.Method)
	}
}

// kindForAllowedMethod enforces the forwarding allowlist.
func kindForAllowedMethod(method string) (registry.Kind, error) {
	switch method {
	case MethodCallTool:
		return registry.KindTool, nil
	case MethodReadResource:
		return registry.KindResource, nil
	case MethodGetPrompt:
		return registry.KindPrompt, nil
	default:
		return "", fmt.Errorf("%w: %s", gwerrors.ErrMethodNotAllowed, method)
	}
}
