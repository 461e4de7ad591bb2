package middleware

import (
	"context"

	"mcpgate/internal/auth"
	"mcpgate/pkg/logging"
)

// Auth resolves the caller's bearer token through the configured provider
// and attaches the resulting identity to the request. A provider failure
// short-circuits the chain with 401 semantics.
func Auth(provider auth.Provider) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *RequestContext) (interface{}, error) {
			token := auth.BearerFromContext(ctx)

			identity, err := provider.Authenticate(ctx, token)
			if err != nil {
				logging.Warn("Auth", "Request %s rejected: %v", rc.ID, err)
				return nil, err
			}

			rc.Identity = identity
			return next(auth.WithIdentity(ctx, identity), rc)
		}
	}
}
