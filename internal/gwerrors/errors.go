// Package gwerrors defines the error taxonomy used across the gateway.
// Every boundary crossing returns one of these kinds so that callers can
// decide on exit codes, HTTP-ish status semantics, and circuit breaker
// feedback without string matching.
package gwerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for routing and lifecycle failures.
var (
	// ErrNoBackendsReachable indicates that at least one backend was
	// configured but none could be attached. Fatal at startup.
	ErrNoBackendsReachable = errors.New("no backends reachable")

	// ErrCapabilityNotFound indicates the requested exposed name has no
	// route map entry.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrBackendUnavailable indicates the backend's circuit breaker is
	// open and the request was rejected without contacting it.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendDisconnected indicates the route resolved but the client
	// manager holds no live session for the backend.
	ErrBackendDisconnected = errors.New("backend disconnected")

	// ErrInvalidBackendResponse indicates the backend returned a result
	// of an unexpected variant for the method.
	ErrInvalidBackendResponse = errors.New("invalid backend response")

	// ErrMethodNotAllowed indicates an MCP method outside the forwarding
	// allowlist (call_tool, read_resource, get_prompt).
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrSessionExpired indicates a client session was evicted by TTL.
	ErrSessionExpired = errors.New("session expired")
)

// ConfigError reports a malformed or incomplete configuration. Fatal at
// startup; Backend and Field identify the offending entry.
type ConfigError struct {
	Backend string // empty for top-level options
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("configuration error: backend %q field %q: %s", e.Backend, e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: field %q: %s", e.Field, e.Reason)
}

// ConnectError reports a transport attach failure for a single backend.
// Non-fatal if any other backend still attaches.
type ConnectError struct {
	Backend string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("backend %q failed to connect: %v", e.Backend, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ConflictError reports a capability registration collision. Only fatal
// under the "error" conflict policy.
type ConflictError struct {
	Kind    string // tool, resource, prompt
	Name    string // contested exposed name
	Backend string // backend attempting registration
	Holder  string // backend currently holding the name
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("capability conflict: %s %q from backend %q already registered by %q",
		e.Kind, e.Name, e.Backend, e.Holder)
}

// CallError wraps a backend invocation failure with routing context so
// the audit layer and circuit breaker can attribute it.
type CallError struct {
	Backend string
	Method  string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("backend %q call %s failed: %v", e.Backend, e.Method, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// AuthError maps to 401 semantics on the request surface.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// AuthzError maps to 403 semantics on the request surface.
type AuthzError struct {
	Subject  string
	Resource string
}

func (e *AuthzError) Error() string {
	return fmt.Sprintf("authorization denied: subject %q may not access %q", e.Subject, e.Resource)
}

// InternalError carries full detail for the log while the client receives
// only the sanitized Message.
type InternalError struct {
	Message string // sanitized, client-visible
	Err     error  // full detail, log only
}

func (e *InternalError) Error() string { return e.Message }

func (e *InternalError) Unwrap() error { return e.Err }

// Kind classifies an error into one of the taxonomy buckets. Used by the
// audit middleware and the CLI exit-code mapping.
func Kind(err error) string {
	var (
		cfgErr      *ConfigError
		connectErr  *ConnectError
		conflictErr *ConflictError
		callErr     *CallError
		authErr     *AuthError
		authzErr    *AuthzError
		internalErr *InternalError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &connectErr):
		return "backend_connect"
	case errors.As(err, &conflictErr):
		return "capability_conflict"
	case errors.As(err, &callErr):
		return "backend_call"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &authzErr):
		return "authorization"
	case errors.As(err, &internalErr):
		return "internal"
	case errors.Is(err, ErrCapabilityNotFound):
		return "not_found"
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrBackendDisconnected):
		return "backend_unavailable"
	case errors.Is(err, ErrNoBackendsReachable):
		return "backend_connect"
	default:
		return "internal"
	}
}
