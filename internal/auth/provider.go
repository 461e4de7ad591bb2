package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"mcpgate/internal/config"
	"mcpgate/internal/gwerrors"
	"mcpgate/pkg/logging"
)

// Provider authenticates a bearer token into a UserIdentity. Failures are
// gwerrors.AuthError values (401 semantics).
type Provider interface {
	Authenticate(ctx context.Context, token string) (*UserIdentity, error)
}

// NewProvider selects the active provider from configuration.
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Type {
	case config.AuthAnonymous:
		logging.Warn("Auth", "Incoming auth set to anonymous, no authentication enforced")
		return &anonymousProvider{}, nil

	case config.AuthLocal:
		if cfg.Token == "" {
			return nil, &gwerrors.ConfigError{Field: "auth.token", Reason: "local auth requires a token"}
		}
		token, err := config.ExpandEnv("", "auth.token", cfg.Token)
		if err != nil {
			return nil, err
		}
		return &localProvider{expected: token}, nil

	case config.AuthJWT, config.AuthOIDC:
		validator, err := NewJWTValidator(cfg)
		if err != nil {
			return nil, err
		}
		return &jwtProvider{validator: validator}, nil

	default:
		return nil, &gwerrors.ConfigError{
			Field:  "auth.type",
			Reason: fmt.Sprintf("unknown auth type %q", cfg.Type),
		}
	}
}

// anonymousProvider accepts every request. Development use only.
type anonymousProvider struct{}

func (p *anonymousProvider) Authenticate(_ context.Context, _ string) (*UserIdentity, error) {
	return &UserIdentity{Subject: "anonymous", Provider: "anonymous"}, nil
}

// localProvider validates against a single static bearer token.
type localProvider struct {
	expected string
}

func (p *localProvider) Authenticate(_ context.Context, token string) (*UserIdentity, error) {
	if token == "" {
		return nil, &gwerrors.AuthError{Reason: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.expected)) != 1 {
		return nil, &gwerrors.AuthError{Reason: "invalid bearer token"}
	}
	return &UserIdentity{Subject: "local-user", Provider: "local"}, nil
}

// jwtProvider validates JWTs against a JWKS key set.
type jwtProvider struct {
	validator *JWTValidator
}

func (p *jwtProvider) Authenticate(ctx context.Context, token string) (*UserIdentity, error) {
	if token == "" {
		return nil, &gwerrors.AuthError{Reason: "missing bearer token"}
	}
	claims, err := p.validator.Validate(ctx, token)
	if err != nil {
		return nil, &gwerrors.AuthError{Reason: err.Error()}
	}
	return &UserIdentity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Roles:    claims.Roles,
		Provider: "jwt",
		Claims:   claims.Raw,
	}, nil
}
