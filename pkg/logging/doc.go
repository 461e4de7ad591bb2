// Package logging provides the structured logging system for mcpgate with
// unified log handling across foreground and detached instances.
//
// This package is built on Go's standard slog package and provides
// consistent logging behavior with structured output and level filtering.
//
// # Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about gateway operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// Every log entry carries a subsystem attribute so output can be filtered
// by component (Gateway, BackendManager, Registry, Router, Auth, Audit,
// Health, Session, Instance).
//
// # Usage
//
//	import "mcpgate/pkg/logging"
//
//	// Foreground mode: log to stderr
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	// Detached mode: append to the instance log file
//	f, err := logging.InitForDaemon(logging.LevelInfo, "/path/to/gw.log")
//
//	logging.Info("Gateway", "Listening on %s", endpoint)
//	logging.Debug("Router", "Request %s resolved to backend %s", id, name)
//	logging.Warn("Health", "Backend %s probe failed", name)
//	logging.Error("BackendManager", err, "Backend %s failed to attach", name)
//
// The audit middleware emits its structured per-request events through
// Info on the Audit subsystem, one JSON payload per request, for easy
// filtering by log aggregation systems.
package logging
