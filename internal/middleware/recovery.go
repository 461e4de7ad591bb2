package middleware

import (
	"context"
	"fmt"

	"mcpgate/internal/gwerrors"
	"mcpgate/pkg/logging"
)

// Recovery is the outermost layer and the final safety net: it converts
// panics into a sanitized internal error and records the terminal error of
// every request in the context. Nothing escapes it.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *RequestContext) (result interface{}, err error) {
			defer func() {
				if recovered := recover(); recovered != nil {
					// Full detail stays in the log; the client sees a
					// stable, sanitized message.
					logging.Error("Recovery", fmt.Errorf("%v", recovered),
						"Panic handling request %s (%s %s)", rc.ID, rc.Method, rc.Capability)
					err = &gwerrors.InternalError{
						Message: "internal server error",
						Err:     fmt.Errorf("panic: %v", recovered),
					}
					rc.Err = err
					result = nil
				}
			}()

			result, err = next(ctx, rc)
			if err != nil {
				rc.Err = err
			}
			return result, err
		}
	}
}
