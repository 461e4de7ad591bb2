// Package auth implements incoming request authentication (anonymous,
// local static token, JWT, OIDC) and role-based authorization policies.
package auth

import "context"

// UserIdentity represents an authenticated (or anonymous) caller. The auth
// middleware attaches it to the request context.
type UserIdentity struct {
	Subject  string
	Email    string
	Name     string
	Roles    []string
	Provider string
	Claims   map[string]interface{}
}

// IsAnonymous reports whether the identity came from the anonymous
// provider.
func (u *UserIdentity) IsAnonymous() bool {
	return u.Provider == "anonymous"
}

type identityContextKey struct{}

type bearerContextKey struct{}

// WithBearerToken stashes the raw bearer token extracted from the
// transport layer (Authorization header) into the context.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerContextKey{}, token)
}

// BearerFromContext retrieves the bearer token, if any.
func BearerFromContext(ctx context.Context) string {
	token, _ := ctx.Value(bearerContextKey{}).(string)
	return token
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, identity *UserIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity attached by the auth
// middleware.
func IdentityFromContext(ctx context.Context) (*UserIdentity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*UserIdentity)
	return identity, ok
}
