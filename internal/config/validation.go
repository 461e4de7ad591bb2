package config

import (
	"fmt"
	"path"
	"slices"

	"mcpgate/internal/gwerrors"
)

var validTransports = []string{TransportSSE, TransportStreamableHTTP, TransportStdio}

// Validate checks the parsed document for structural problems. All failures
// are gwerrors.ConfigError values naming the offending backend and field.
func Validate(cfg *Config) error {
	if !slices.Contains(validTransports, cfg.Server.Transport) {
		return &gwerrors.ConfigError{
			Field:  "server.transport",
			Reason: fmt.Sprintf("unknown transport %q", cfg.Server.Transport),
		}
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return &gwerrors.ConfigError{
			Field:  "server.port",
			Reason: fmt.Sprintf("port %d out of range", cfg.Server.Port),
		}
	}

	if cfg.Server.Management.Enabled && cfg.Server.Management.Token == "" {
		return &gwerrors.ConfigError{
			Field:  "server.management.token",
			Reason: "management requires a token when enabled",
		}
	}

	if err := validateConflictPolicy(&cfg.ConflictPolicy); err != nil {
		return err
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return err
	}
	for i, policy := range cfg.Authorization.Policies {
		if policy.Effect != "allow" && policy.Effect != "deny" {
			return &gwerrors.ConfigError{
				Field:  fmt.Sprintf("authorization.policies[%d].effect", i),
				Reason: fmt.Sprintf("must be allow or deny, got %q", policy.Effect),
			}
		}
	}
	if cfg.Health.FailureThreshold < 1 {
		return &gwerrors.ConfigError{
			Field:  "health.failure_threshold",
			Reason: "must be at least 1",
		}
	}

	for name, backend := range cfg.Backends {
		if err := validateBackend(name, &backend); err != nil {
			return err
		}
	}
	return nil
}

func validateConflictPolicy(policy *ConflictPolicyConfig) error {
	switch policy.Strategy {
	case ConflictFirstWins, ConflictPrefix, ConflictError:
	case ConflictPriority:
		if len(policy.Order) == 0 {
			return &gwerrors.ConfigError{
				Field:  "conflict_policy.order",
				Reason: "priority strategy requires a non-empty order list",
			}
		}
	default:
		return &gwerrors.ConfigError{
			Field:  "conflict_policy.strategy",
			Reason: fmt.Sprintf("unknown strategy %q", policy.Strategy),
		}
	}
	return nil
}

func validateAuth(auth *AuthConfig) error {
	switch auth.Type {
	case AuthAnonymous:
	case AuthLocal:
		if auth.Token == "" {
			return &gwerrors.ConfigError{
				Field:  "auth.token",
				Reason: "local auth requires a token",
			}
		}
	case AuthJWT:
		if auth.JWKSURI == "" && auth.Issuer == "" {
			return &gwerrors.ConfigError{
				Field:  "auth.jwks_uri",
				Reason: "jwt auth requires jwks_uri or issuer",
			}
		}
	case AuthOIDC:
		if auth.Issuer == "" {
			return &gwerrors.ConfigError{
				Field:  "auth.issuer",
				Reason: "oidc auth requires an issuer for discovery",
			}
		}
	default:
		return &gwerrors.ConfigError{
			Field:  "auth.type",
			Reason: fmt.Sprintf("unknown auth type %q", auth.Type),
		}
	}
	return nil
}

func validateBackend(name string, backend *BackendConfig) error {
	switch backend.Type {
	case TransportStdio:
		if backend.Command == "" {
			return &gwerrors.ConfigError{Backend: name, Field: "command", Reason: "stdio backend requires a command"}
		}
	case TransportSSE:
		if backend.URL == "" {
			return &gwerrors.ConfigError{Backend: name, Field: "url", Reason: "sse backend requires a url"}
		}
	case TransportStreamableHTTP:
		if backend.URL == "" {
			return &gwerrors.ConfigError{Backend: name, Field: "url", Reason: "streamable-http backend requires a url"}
		}
		if backend.Command != "" {
			return &gwerrors.ConfigError{Backend: name, Field: "command", Reason: "streamable-http backends do not launch local commands"}
		}
	default:
		return &gwerrors.ConfigError{
			Backend: name,
			Field:   "type",
			Reason:  fmt.Sprintf("unknown backend type %q", backend.Type),
		}
	}

	if backend.Auth != nil {
		switch backend.Auth.Type {
		case OutgoingAuthStatic:
			if len(backend.Auth.Headers) == 0 {
				return &gwerrors.ConfigError{Backend: name, Field: "auth.headers", Reason: "static auth requires headers"}
			}
		case OutgoingAuthOAuth2:
			if backend.Auth.TokenURL == "" || backend.Auth.ClientID == "" {
				return &gwerrors.ConfigError{Backend: name, Field: "auth", Reason: "oauth2 auth requires token_url and client_id"}
			}
		default:
			return &gwerrors.ConfigError{
				Backend: name,
				Field:   "auth.type",
				Reason:  fmt.Sprintf("unknown outgoing auth type %q", backend.Auth.Type),
			}
		}
	}

	for field, filter := range map[string]KindFilter{
		"filters.tools":     backend.Filters.Tools,
		"filters.resources": backend.Filters.Resources,
		"filters.prompts":   backend.Filters.Prompts,
	} {
		for _, pattern := range append(append([]string{}, filter.Allow...), filter.Deny...) {
			if _, err := path.Match(pattern, ""); err != nil {
				return &gwerrors.ConfigError{
					Backend: name,
					Field:   field,
					Reason:  fmt.Sprintf("invalid glob pattern %q", pattern),
				}
			}
		}
	}
	return nil
}
