package middleware

import (
	"context"
	"fmt"

	"mcpgate/internal/auth"
	"mcpgate/internal/gwerrors"
	"mcpgate/internal/registry"
	"mcpgate/pkg/logging"
)

// BackendInfoFunc resolves the backend and group owning an exposed
// capability name, so policies can target server:<name> and group:<name>
// resources. ok is false when the capability is unknown; the routing layer
// reports that case.
type BackendInfoFunc func(kind registry.Kind, exposed string) (backendName, group string, ok bool)

// Authz evaluates the configured policy rules against the caller's roles.
// Disabled (no rules) means everything is allowed.
func Authz(authorizer *auth.Authorizer, info BackendInfoFunc) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *RequestContext) (interface{}, error) {
			if !authorizer.Enabled() {
				return next(ctx, rc)
			}

			resources := []string{fmt.Sprintf("%s:%s", resourcePrefix(rc.Method), rc.Capability)}
			if backendName, group, ok := info(kindForMethod(rc.Method), rc.Capability); ok {
				resources = append(resources,
					fmt.Sprintf("server:%s", backendName),
					fmt.Sprintf("group:%s", group),
				)
			}

			var roles []string
			if rc.Identity != nil {
				roles = rc.Identity.Roles
			}

			if authorizer.EvaluateAny(roles, resources) != auth.DecisionAllow {
				subject := "anonymous"
				if rc.Identity != nil {
					subject = rc.Identity.Subject
				}
				logging.Warn("Authz", "Request %s denied for subject %s on %v", rc.ID, subject, resources)
				return nil, &gwerrors.AuthzError{Subject: subject, Resource: resources[0]}
			}

			return next(ctx, rc)
		}
	}
}

// resourcePrefix maps an MCP method to the policy resource class of its
// capability.
func resourcePrefix(method string) string {
	switch method {
	case MethodReadResource:
		return "resource"
	case MethodGetPrompt:
		return "prompt"
	default:
		return "tool"
	}
}

// kindForMethod maps an MCP method to the capability kind it targets.
func kindForMethod(method string) registry.Kind {
	switch method {
	case MethodReadResource:
		return registry.KindResource
	case MethodGetPrompt:
		return registry.KindPrompt
	default:
		return registry.KindTool
	}
}
