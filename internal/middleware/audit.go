package middleware

import (
	"context"
	"encoding/json"
	"time"

	"mcpgate/internal/gwerrors"
	"mcpgate/pkg/logging"

	"github.com/google/uuid"
)

// AuditEvent is the structured record emitted once per request.
type AuditEvent struct {
	Timestamp time.Time    `json:"timestamp"`
	EventID   string       `json:"event_id"`
	Source    string       `json:"source"`
	Target    AuditTarget  `json:"target"`
	Outcome   AuditOutcome `json:"outcome"`
}

// AuditTarget identifies what the request acted on.
type AuditTarget struct {
	Backend    string `json:"backend,omitempty"`
	Method     string `json:"method"`
	Capability string `json:"capability"`
	Original   string `json:"original,omitempty"`
}

// AuditOutcome records how the request ended.
type AuditOutcome struct {
	Status    string `json:"status"` // success | error
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// Audit records request start and completion and emits one structured
// event per request.
func Audit() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *RequestContext) (interface{}, error) {
			start := time.Now()
			logging.Debug("Audit", "Request %s started: %s %s", rc.ID, rc.Method, rc.Capability)

			result, err := next(ctx, rc)

			rc.ElapsedMS = time.Since(start).Milliseconds()
			event := AuditEvent{
				Timestamp: time.Now().UTC(),
				EventID:   uuid.New().String(),
				Source:    sourceOf(rc),
				Target: AuditTarget{
					Backend:    rc.ServerName,
					Method:     rc.Method,
					Capability: rc.Capability,
					Original:   rc.OriginalName,
				},
				Outcome: AuditOutcome{
					Status:    "success",
					LatencyMS: rc.ElapsedMS,
				},
			}
			if err != nil {
				event.Outcome.Status = "error"
				event.Outcome.Error = err.Error()
				event.Outcome.ErrorType = gwerrors.Kind(err)
			}

			if payload, marshalErr := json.Marshal(event); marshalErr == nil {
				logging.Info("Audit", "%s", payload)
			}

			return result, err
		}
	}
}

func sourceOf(rc *RequestContext) string {
	if rc.Identity != nil && rc.Identity.Subject != "" {
		return rc.Identity.Subject
	}
	return "anonymous"
}
