package backend

import (
	"context"
	"fmt"

	"mcpgate/internal/config"
	"mcpgate/internal/gwerrors"
)

// NewClient builds the transport-appropriate MCPClient for a backend
// descriptor. Environment references in headers, env entries, and auth
// secrets are resolved here, at attach time; a missing variable fails the
// backend with a configuration error.
func NewClient(name string, cfg config.BackendConfig) (MCPClient, error) {
	env, err := config.ExpandEnvMap(name, "env", cfg.Env)
	if err != nil {
		return nil, err
	}
	headers, err := config.ExpandEnvMap(name, "headers", cfg.Headers)
	if err != nil {
		return nil, err
	}

	var oauth *clientCredentialsSource
	if cfg.Auth != nil {
		switch cfg.Auth.Type {
		case config.OutgoingAuthStatic:
			authHeaders, err := config.ExpandEnvMap(name, "auth.headers", cfg.Auth.Headers)
			if err != nil {
				return nil, err
			}
			for k, v := range authHeaders {
				headers[k] = v
			}
		case config.OutgoingAuthOAuth2:
			secret, err := config.ExpandEnv(name, "auth.client_secret", cfg.Auth.ClientSecret)
			if err != nil {
				return nil, err
			}
			oauth = newClientCredentialsSource(name, cfg.Auth.TokenURL, cfg.Auth.ClientID, secret, cfg.Auth.Scopes)
		}
	}

	switch cfg.Type {
	case config.TransportStdio:
		return NewStdioClient(name, cfg.Command, cfg.Args, env), nil

	case config.TransportSSE:
		client := NewSSEClient(name, cfg.URL, headers)
		if cfg.Command != "" {
			client.WithLocalLaunch(cfg.Command, cfg.Args, env, cfg.Timeouts.SSEStartup.Std())
		}
		if oauth != nil {
			// The SSE transport has no custom-client hook, so the token
			// is resolved once at attach time and carried as a header.
			token, err := oauth.Token(context.Background())
			if err != nil {
				return nil, &gwerrors.ConnectError{Backend: name, Err: err}
			}
			client.headers["Authorization"] = "Bearer " + token
		}
		return client, nil

	case config.TransportStreamableHTTP:
		client := NewStreamableHTTPClient(name, cfg.URL, headers)
		if oauth != nil {
			client.WithHTTPClient(newOAuthHTTPClient(oauth))
		}
		return client, nil

	default:
		return nil, &gwerrors.ConfigError{
			Backend: name,
			Field:   "type",
			Reason:  fmt.Sprintf("unknown backend type %q", cfg.Type),
		}
	}
}
