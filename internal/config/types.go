package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names for both the gateway's own listener and backends.
const (
	// TransportStreamableHTTP is the streamable HTTP transport.
	TransportStreamableHTTP = "streamable-http"
	// TransportSSE is the Server-Sent Events transport.
	TransportSSE = "sse"
	// TransportStdio is the standard I/O transport.
	TransportStdio = "stdio"
)

// Conflict resolution strategies.
const (
	ConflictFirstWins = "first-wins"
	ConflictPrefix    = "prefix"
	ConflictPriority  = "priority"
	ConflictError     = "error"
)

// Incoming auth provider types.
const (
	AuthAnonymous = "anonymous"
	AuthLocal     = "local"
	AuthJWT       = "jwt"
	AuthOIDC      = "oidc"
)

// Outgoing auth types for backends.
const (
	OutgoingAuthStatic = "static"
	OutgoingAuthOAuth2 = "oauth2"
)

// Duration wraps time.Duration so YAML documents can use values like "60s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration structure for the gateway.
type Config struct {
	Server         ServerConfig             `yaml:"server"`
	ConflictPolicy ConflictPolicyConfig     `yaml:"conflict_policy"`
	Auth           AuthConfig               `yaml:"auth"`
	Authorization  AuthorizationConfig      `yaml:"authorization"`
	Session        SessionConfig            `yaml:"session"`
	Health         HealthConfig             `yaml:"health"`
	Backends       map[string]BackendConfig `yaml:"backends"`
}

// ServerConfig defines how the gateway exposes its own MCP endpoint.
type ServerConfig struct {
	Host       string           `yaml:"host,omitempty"`
	Port       int              `yaml:"port,omitempty"`
	Transport  string           `yaml:"transport,omitempty"`
	Management ManagementConfig `yaml:"management,omitempty"`
}

// ManagementConfig gates the (future) management surface. Only validated
// for now; no management endpoints are served.
type ManagementConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Token   string `yaml:"token,omitempty"`
}

// ConflictPolicyConfig selects how capability name collisions are resolved.
type ConflictPolicyConfig struct {
	Strategy  string   `yaml:"strategy,omitempty"`
	Separator string   `yaml:"separator,omitempty"`
	Order     []string `yaml:"order,omitempty"`
}

// AuthConfig configures incoming request authentication.
type AuthConfig struct {
	Type       string   `yaml:"type,omitempty"`
	Token      string   `yaml:"token,omitempty"`
	JWKSURI    string   `yaml:"jwks_uri,omitempty"`
	Issuer     string   `yaml:"issuer,omitempty"`
	Audience   string   `yaml:"audience,omitempty"`
	Algorithms []string `yaml:"algorithms,omitempty"`
}

// AuthorizationConfig holds ordered allow/deny policy rules. An empty rule
// list disables authorization entirely.
type AuthorizationConfig struct {
	Policies []PolicyConfig `yaml:"policies,omitempty"`
}

// PolicyConfig is a single authorization rule.
type PolicyConfig struct {
	Effect      string   `yaml:"effect"`
	Roles       []string `yaml:"roles,omitempty"`
	Resources   []string `yaml:"resources,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// SessionConfig controls client session lifetime.
type SessionConfig struct {
	TTL           Duration `yaml:"ttl,omitempty"`
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
}

// HealthConfig controls the health monitor and per-backend circuit breakers.
type HealthConfig struct {
	ProbeInterval    Duration `yaml:"probe_interval,omitempty"`
	FailureThreshold int      `yaml:"failure_threshold,omitempty"`
	Cooldown         Duration `yaml:"cooldown,omitempty"`
}

// BackendConfig describes one upstream MCP server. Type selects the
// transport variant; the remaining fields apply per variant.
type BackendConfig struct {
	Type string `yaml:"type"`

	// stdio (and the optional local-launch helper for sse)
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// sse and streamable-http
	URL     string              `yaml:"url,omitempty"`
	Headers map[string]string   `yaml:"headers,omitempty"`
	Auth    *OutgoingAuthConfig `yaml:"auth,omitempty"`

	Group         string                  `yaml:"group,omitempty"`
	Filters       FiltersConfig           `yaml:"filters,omitempty"`
	ToolOverrides map[string]ToolOverride `yaml:"tool_overrides,omitempty"`
	Timeouts      TimeoutsConfig          `yaml:"timeouts,omitempty"`
}

// OutgoingAuthConfig configures how the gateway authenticates to a backend.
type OutgoingAuthConfig struct {
	Type string `yaml:"type"`

	// static
	Headers map[string]string `yaml:"headers,omitempty"`

	// oauth2 client credentials
	TokenURL     string   `yaml:"token_url,omitempty"`
	ClientID     string   `yaml:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// FiltersConfig holds per-capability-kind allow/deny glob lists.
type FiltersConfig struct {
	Tools     KindFilter `yaml:"tools,omitempty"`
	Resources KindFilter `yaml:"resources,omitempty"`
	Prompts   KindFilter `yaml:"prompts,omitempty"`
}

// KindFilter is an allow/deny glob pair. Deny is applied first; if Allow
// is non-empty, a capability must match at least one allow pattern.
type KindFilter struct {
	Allow []string `yaml:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty"`
}

// ToolOverride renames a tool and/or replaces its description before
// conflict resolution.
type ToolOverride struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// TimeoutsConfig holds per-backend operation deadlines.
type TimeoutsConfig struct {
	Init       Duration `yaml:"init,omitempty"`
	CapFetch   Duration `yaml:"cap_fetch,omitempty"`
	SSEStartup Duration `yaml:"sse_startup,omitempty"`
}
