package config

import "time"

// Default values applied when the corresponding option is absent.
const (
	DefaultHost      = "localhost"
	DefaultPort      = 8090
	DefaultTransport = TransportStreamableHTTP
	DefaultSeparator = "_"
	DefaultGroup     = "default"

	DefaultSessionTTL    = 1800 * time.Second
	DefaultSweepInterval = 60 * time.Second

	DefaultProbeInterval    = 30 * time.Second
	DefaultFailureThreshold = 3
	DefaultCooldown         = 60 * time.Second

	DefaultInitTimeout     = 15 * time.Second
	DefaultCapFetchTimeout = 10 * time.Second
	DefaultSSEStartup      = 5 * time.Second
)

// GetDefaultConfig returns the built-in configuration. A gateway started
// without a config file serves an empty catalog on the default endpoint.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:      DefaultHost,
			Port:      DefaultPort,
			Transport: DefaultTransport,
		},
		ConflictPolicy: ConflictPolicyConfig{
			Strategy:  ConflictFirstWins,
			Separator: DefaultSeparator,
		},
		Auth: AuthConfig{
			Type: AuthAnonymous,
		},
		Session: SessionConfig{
			TTL:           Duration(DefaultSessionTTL),
			SweepInterval: Duration(DefaultSweepInterval),
		},
		Health: HealthConfig{
			ProbeInterval:    Duration(DefaultProbeInterval),
			FailureThreshold: DefaultFailureThreshold,
			Cooldown:         Duration(DefaultCooldown),
		},
		Backends: map[string]BackendConfig{},
	}
}

// applyDefaults fills zero-valued options in a parsed document. Per-backend
// timeouts and groups are defaulted here so downstream components never see
// zero durations.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = DefaultTransport
	}
	if cfg.ConflictPolicy.Strategy == "" {
		cfg.ConflictPolicy.Strategy = ConflictFirstWins
	}
	if cfg.ConflictPolicy.Separator == "" {
		cfg.ConflictPolicy.Separator = DefaultSeparator
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = AuthAnonymous
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = Duration(DefaultSessionTTL)
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = Duration(DefaultSweepInterval)
	}
	if cfg.Health.ProbeInterval == 0 {
		cfg.Health.ProbeInterval = Duration(DefaultProbeInterval)
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Health.Cooldown == 0 {
		cfg.Health.Cooldown = Duration(DefaultCooldown)
	}

	for name, backend := range cfg.Backends {
		if backend.Group == "" {
			backend.Group = DefaultGroup
		}
		if backend.Timeouts.Init == 0 {
			backend.Timeouts.Init = Duration(DefaultInitTimeout)
		}
		if backend.Timeouts.CapFetch == 0 {
			backend.Timeouts.CapFetch = Duration(DefaultCapFetchTimeout)
		}
		if backend.Timeouts.SSEStartup == 0 {
			backend.Timeouts.SSEStartup = Duration(DefaultSSEStartup)
		}
		cfg.Backends[name] = backend
	}
}
