package gateway

import (
	"context"
	"net/http/httptest"
	"testing"

	"mcpgate/internal/auth"

	"github.com/stretchr/testify/assert"
)

func TestBearerFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard bearer", "Bearer tok-123", "tok-123"},
		{"lowercase scheme", "bearer tok-123", "tok-123"},
		{"extra whitespace", "Bearer   tok-123", "tok-123"},
		{"no scheme", "tok-123", "tok-123"},
		{"empty header", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			ctx := bearerFromRequest(context.Background(), req)
			assert.Equal(t, tt.want, auth.BearerFromContext(ctx))
		})
	}
}

func TestStalePublished(t *testing.T) {
	published := map[string]bool{"a": true, "b": true, "c": true}
	current := map[string]bool{"b": true, "d": true}

	stale := stalePublished(published, current)
	assert.ElementsMatch(t, []string{"a", "c"}, stale)

	assert.Empty(t, stalePublished(nil, current))
	assert.Empty(t, stalePublished(map[string]bool{"x": true}, map[string]bool{"x": true}))
}
