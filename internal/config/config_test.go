package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mcpgate/internal/gwerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_FullDocument(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
  transport: sse
conflict_policy:
  strategy: prefix
  separator: "."
session:
  ttl: 300s
  sweep_interval: 30s
health:
  probe_interval: 10s
  failure_threshold: 5
  cooldown: 20s
backends:
  files:
    type: stdio
    command: mcp-files
    args: ["--root", "/tmp"]
    env:
      LOG_LEVEL: debug
  remote:
    type: streamable-http
    url: http://remote:8080/mcp
    headers:
      X-Team: platform
    group: prod
    timeouts:
      init: 5s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, TransportSSE, cfg.Server.Transport)
	assert.Equal(t, ConflictPrefix, cfg.ConflictPolicy.Strategy)
	assert.Equal(t, ".", cfg.ConflictPolicy.Separator)
	assert.Equal(t, 300*time.Second, cfg.Session.TTL.Std())
	assert.Equal(t, 5, cfg.Health.FailureThreshold)

	files := cfg.Backends["files"]
	assert.Equal(t, TransportStdio, files.Type)
	assert.Equal(t, "mcp-files", files.Command)
	assert.Equal(t, []string{"--root", "/tmp"}, files.Args)

	remote := cfg.Backends["remote"]
	assert.Equal(t, "prod", remote.Group)
	assert.Equal(t, 5*time.Second, remote.Timeouts.Init.Std())
	// Unset timeouts fall back to defaults.
	assert.Equal(t, DefaultCapFetchTimeout, remote.Timeouts.CapFetch.Std())
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
backends:
  files:
    type: stdio
    command: mcp-files
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultTransport, cfg.Server.Transport)
	assert.Equal(t, ConflictFirstWins, cfg.ConflictPolicy.Strategy)
	assert.Equal(t, AuthAnonymous, cfg.Auth.Type)
	assert.Equal(t, DefaultSessionTTL, cfg.Session.TTL.Std())
	assert.Equal(t, DefaultGroup, cfg.Backends["files"].Group)
	assert.Equal(t, DefaultInitTimeout, cfg.Backends["files"].Timeouts.Init.Std())
}

func TestLoadConfig_ExplicitMissingPathFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, `
server:
  hostt: typo
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
session:
  ttl: banana
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate_BackendRequirements(t *testing.T) {
	tests := []struct {
		name    string
		backend BackendConfig
		wantErr bool
	}{
		{
			name:    "stdio requires command",
			backend: BackendConfig{Type: TransportStdio},
			wantErr: true,
		},
		{
			name:    "sse requires url",
			backend: BackendConfig{Type: TransportSSE},
			wantErr: true,
		},
		{
			name:    "streamable-http requires url",
			backend: BackendConfig{Type: TransportStreamableHTTP},
			wantErr: true,
		},
		{
			name:    "streamable-http rejects command",
			backend: BackendConfig{Type: TransportStreamableHTTP, URL: "http://x/mcp", Command: "helper"},
			wantErr: true,
		},
		{
			name:    "unknown transport",
			backend: BackendConfig{Type: "websocket", URL: "http://x"},
			wantErr: true,
		},
		{
			name:    "valid stdio",
			backend: BackendConfig{Type: TransportStdio, Command: "mcp-files"},
			wantErr: false,
		},
		{
			name:    "sse may carry a local launch helper",
			backend: BackendConfig{Type: TransportSSE, URL: "http://localhost:3001/sse", Command: "helper"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Backends = map[string]BackendConfig{"b": tt.backend}
			applyDefaults(&cfg)
			err := Validate(&cfg)
			if tt.wantErr {
				var configErr *gwerrors.ConfigError
				require.Error(t, err)
				assert.True(t, errors.As(err, &configErr))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_PriorityRequiresOrder(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.ConflictPolicy.Strategy = ConflictPriority
	err := Validate(&cfg)
	require.Error(t, err)

	cfg.ConflictPolicy.Order = []string{"a", "b"}
	assert.NoError(t, Validate(&cfg))
}

func TestValidate_AuthRequirements(t *testing.T) {
	cfg := GetDefaultConfig()

	cfg.Auth = AuthConfig{Type: AuthLocal}
	assert.Error(t, Validate(&cfg), "local auth needs a token")

	cfg.Auth = AuthConfig{Type: AuthLocal, Token: "secret"}
	assert.NoError(t, Validate(&cfg))

	cfg.Auth = AuthConfig{Type: AuthJWT}
	assert.Error(t, Validate(&cfg), "jwt auth needs jwks_uri or issuer")

	cfg.Auth = AuthConfig{Type: AuthJWT, Issuer: "https://idp.example.com"}
	assert.NoError(t, Validate(&cfg))

	cfg.Auth = AuthConfig{Type: AuthOIDC}
	assert.Error(t, Validate(&cfg), "oidc auth needs an issuer")
}

func TestValidate_ManagementRequiresToken(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Management.Enabled = true
	assert.Error(t, Validate(&cfg))

	cfg.Server.Management.Token = "secret"
	assert.NoError(t, Validate(&cfg))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("GATEWAY_TEST_TOKEN", "s3cret")

	value, err := ExpandEnv("b", "headers", "Bearer ${GATEWAY_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", value)

	_, err = ExpandEnv("b", "headers", "${GATEWAY_TEST_UNSET_VAR}")
	require.Error(t, err)
	var configErr *gwerrors.ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestExpandEnvMap(t *testing.T) {
	t.Setenv("GATEWAY_TEST_KEY", "abc123")

	expanded, err := ExpandEnvMap("b", "env", map[string]string{
		"API_KEY": "${GATEWAY_TEST_KEY}",
		"PLAIN":   "no-refs",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", expanded["API_KEY"])
	assert.Equal(t, "no-refs", expanded["PLAIN"])
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
