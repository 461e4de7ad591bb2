package middleware

import (
	"context"
	"errors"
	"testing"

	"mcpgate/internal/auth"
	"mcpgate/internal/config"
	"mcpgate/internal/gwerrors"
	"mcpgate/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns a canned identity or error.
type fakeProvider struct {
	identity *auth.UserIdentity
	err      error
	seen     string
}

func (p *fakeProvider) Authenticate(_ context.Context, token string) (*auth.UserIdentity, error) {
	p.seen = token
	if p.err != nil {
		return nil, p.err
	}
	return p.identity, nil
}

func okHandler(result interface{}) Handler {
	return func(_ context.Context, _ *RequestContext) (interface{}, error) {
		return result, nil
	}
}

func TestNewRequestContext(t *testing.T) {
	rc := NewRequestContext(MethodCallTool, "search", map[string]interface{}{"q": "go"})

	assert.Len(t, rc.ID, 12)
	assert.Equal(t, MethodCallTool, rc.Method)
	assert.Equal(t, "search", rc.Capability)
	assert.NotNil(t, rc.Metadata)

	other := NewRequestContext(MethodCallTool, "search", nil)
	assert.NotEqual(t, rc.ID, other.ID)
}

func TestChain_ComposesOutsideIn(t *testing.T) {
	var order []string
	layer := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, rc *RequestContext) (interface{}, error) {
				order = append(order, name+"-in")
				result, err := next(ctx, rc)
				order = append(order, name+"-out")
				return result, err
			}
		}
	}

	handler := Chain(okHandler("done"), layer("outer"), layer("inner"))
	result, err := handler(context.Background(), NewRequestContext(MethodCallTool, "x", nil))

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, []string{"outer-in", "inner-in", "inner-out", "outer-out"}, order)
}

func TestChain_NoLayersIsTerminal(t *testing.T) {
	handler := Chain(okHandler(42))
	result, err := handler(context.Background(), NewRequestContext(MethodCallTool, "x", nil))
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRecovery_ConvertsPanicToInternalError(t *testing.T) {
	handler := Chain(func(_ context.Context, _ *RequestContext) (interface{}, error) {
		panic("backend exploded: secret detail")
	}, Recovery())

	rc := NewRequestContext(MethodCallTool, "search", nil)
	result, err := handler(context.Background(), rc)

	assert.Nil(t, result)
	var internalErr *gwerrors.InternalError
	require.ErrorAs(t, err, &internalErr)
	assert.Equal(t, "internal server error", internalErr.Message, "panic detail must not reach the client")
	assert.Equal(t, err, rc.Err)
}

func TestRecovery_RecordsTerminalError(t *testing.T) {
	sentinel := errors.New("downstream failed")
	handler := Chain(func(_ context.Context, _ *RequestContext) (interface{}, error) {
		return nil, sentinel
	}, Recovery())

	rc := NewRequestContext(MethodCallTool, "search", nil)
	_, err := handler(context.Background(), rc)

	assert.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, rc.Err, sentinel)
}

func TestRecovery_PassesThroughSuccess(t *testing.T) {
	handler := Chain(okHandler("fine"), Recovery())

	rc := NewRequestContext(MethodCallTool, "search", nil)
	result, err := handler(context.Background(), rc)

	require.NoError(t, err)
	assert.Equal(t, "fine", result)
	assert.Nil(t, rc.Err)
}

func TestAudit_RecordsLatencyAndPassesResult(t *testing.T) {
	handler := Chain(okHandler("payload"), Audit())

	rc := NewRequestContext(MethodCallTool, "search", nil)
	result, err := handler(context.Background(), rc)

	require.NoError(t, err)
	assert.Equal(t, "payload", result)
	assert.GreaterOrEqual(t, rc.ElapsedMS, int64(0))
}

func TestAudit_PropagatesError(t *testing.T) {
	handler := Chain(func(_ context.Context, _ *RequestContext) (interface{}, error) {
		return nil, &gwerrors.AuthError{Reason: "bad token"}
	}, Audit())

	rc := NewRequestContext(MethodCallTool, "search", nil)
	_, err := handler(context.Background(), rc)

	var authErr *gwerrors.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestAuth_AttachesIdentity(t *testing.T) {
	provider := &fakeProvider{identity: &auth.UserIdentity{Subject: "alice", Roles: []string{"admin"}}}

	var seenIdentity *auth.UserIdentity
	terminal := func(ctx context.Context, rc *RequestContext) (interface{}, error) {
		seenIdentity, _ = auth.IdentityFromContext(ctx)
		return "ok", nil
	}
	handler := Chain(terminal, Auth(provider))

	rc := NewRequestContext(MethodCallTool, "search", nil)
	ctx := auth.WithBearerToken(context.Background(), "tok-123")
	_, err := handler(ctx, rc)

	require.NoError(t, err)
	assert.Equal(t, "tok-123", provider.seen)
	require.NotNil(t, rc.Identity)
	assert.Equal(t, "alice", rc.Identity.Subject)
	require.NotNil(t, seenIdentity, "identity must be visible downstream via the context")
	assert.Equal(t, "alice", seenIdentity.Subject)
}

func TestAuth_ShortCircuitsOnFailure(t *testing.T) {
	provider := &fakeProvider{err: &gwerrors.AuthError{Reason: "invalid bearer token"}}

	called := false
	terminal := func(_ context.Context, _ *RequestContext) (interface{}, error) {
		called = true
		return "ok", nil
	}
	handler := Chain(terminal, Auth(provider))

	_, err := handler(context.Background(), NewRequestContext(MethodCallTool, "search", nil))

	var authErr *gwerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, called, "rejected requests must not reach the next layer")
}

func newAuthorizer(t *testing.T, policies ...config.PolicyConfig) *auth.Authorizer {
	t.Helper()
	return auth.NewAuthorizer(config.AuthorizationConfig{Policies: policies})
}

func staticInfo(backendName, group string) BackendInfoFunc {
	return func(_ registry.Kind, _ string) (string, string, bool) {
		return backendName, group, true
	}
}

func unknownInfo(_ registry.Kind, _ string) (string, string, bool) {
	return "", "", false
}

func TestAuthz_DisabledAllowsEverything(t *testing.T) {
	handler := Chain(okHandler("ok"), Authz(newAuthorizer(t), unknownInfo))

	rc := NewRequestContext(MethodCallTool, "search", nil)
	result, err := handler(context.Background(), rc)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestAuthz_AllowByToolName(t *testing.T) {
	authorizer := newAuthorizer(t, config.PolicyConfig{
		Effect:    "allow",
		Roles:     []string{"dev"},
		Resources: []string{"tool:search"},
	})
	handler := Chain(okHandler("ok"), Authz(authorizer, unknownInfo))

	rc := NewRequestContext(MethodCallTool, "search", nil)
	rc.Identity = &auth.UserIdentity{Subject: "alice", Roles: []string{"dev"}}
	_, err := handler(context.Background(), rc)
	assert.NoError(t, err)
}

func TestAuthz_DefaultDenyWhenRulesExist(t *testing.T) {
	authorizer := newAuthorizer(t, config.PolicyConfig{
		Effect:    "allow",
		Roles:     []string{"dev"},
		Resources: []string{"tool:other"},
	})
	handler := Chain(okHandler("ok"), Authz(authorizer, unknownInfo))

	rc := NewRequestContext(MethodCallTool, "search", nil)
	rc.Identity = &auth.UserIdentity{Subject: "alice", Roles: []string{"dev"}}
	_, err := handler(context.Background(), rc)

	var authzErr *gwerrors.AuthzError
	require.ErrorAs(t, err, &authzErr)
	assert.Equal(t, "alice", authzErr.Subject)
}

func TestAuthz_DenyBeatsAllow(t *testing.T) {
	authorizer := newAuthorizer(t,
		config.PolicyConfig{Effect: "allow", Resources: []string{"*"}},
		config.PolicyConfig{Effect: "deny", Roles: []string{"intern"}, Resources: []string{"tool:delete_*"}},
	)
	handler := Chain(okHandler("ok"), Authz(authorizer, unknownInfo))

	rc := NewRequestContext(MethodCallTool, "delete_repo", nil)
	rc.Identity = &auth.UserIdentity{Subject: "bob", Roles: []string{"intern"}}
	_, err := handler(context.Background(), rc)

	var authzErr *gwerrors.AuthzError
	assert.ErrorAs(t, err, &authzErr)
}

func TestAuthz_MatchesBackendAndGroupResources(t *testing.T) {
	authorizer := newAuthorizer(t, config.PolicyConfig{
		Effect:    "allow",
		Resources: []string{"group:prod"},
	})
	handler := Chain(okHandler("ok"), Authz(authorizer, staticInfo("files", "prod")))

	rc := NewRequestContext(MethodCallTool, "search", nil)
	rc.Identity = &auth.UserIdentity{Subject: "alice", Roles: []string{"dev"}}
	_, err := handler(context.Background(), rc)
	assert.NoError(t, err, "a rule matching the backend group must admit the request")
}

func TestAuthz_AnonymousSubjectInDenial(t *testing.T) {
	authorizer := newAuthorizer(t, config.PolicyConfig{
		Effect:    "allow",
		Roles:     []string{"dev"},
		Resources: []string{"*"},
	})
	handler := Chain(okHandler("ok"), Authz(authorizer, unknownInfo))

	rc := NewRequestContext(MethodReadResource, "file:///etc/motd", nil)
	_, err := handler(context.Background(), rc)

	var authzErr *gwerrors.AuthzError
	require.ErrorAs(t, err, &authzErr)
	assert.Equal(t, "anonymous", authzErr.Subject)
	assert.Equal(t, "resource:file:///etc/motd", authzErr.Resource)
}

func TestResourcePrefix(t *testing.T) {
	assert.Equal(t, "tool", resourcePrefix(MethodCallTool))
	assert.Equal(t, "resource", resourcePrefix(MethodReadResource))
	assert.Equal(t, "prompt", resourcePrefix(MethodGetPrompt))
}

func TestKindForAllowedMethod(t *testing.T) {
	kind, err := kindForAllowedMethod(MethodCallTool)
	require.NoError(t, err)
	assert.Equal(t, registry.KindTool, kind)

	kind, err = kindForAllowedMethod(MethodReadResource)
	require.NoError(t, err)
	assert.Equal(t, registry.KindResource, kind)

	kind, err = kindForAllowedMethod(MethodGetPrompt)
	require.NoError(t, err)
	assert.Equal(t, registry.KindPrompt, kind)

	_, err = kindForAllowedMethod("list_tools")
	assert.ErrorIs(t, err, gwerrors.ErrMethodNotAllowed)
}

func TestFullChainOrdering(t *testing.T) {
	// Recovery outermost, then audit, auth, authz: an authz denial must
	// still be audited and recorded as the terminal error.
	provider := &fakeProvider{identity: &auth.UserIdentity{Subject: "bob", Roles: []string{"intern"}}}
	authorizer := newAuthorizer(t, config.PolicyConfig{
		Effect:    "deny",
		Roles:     []string{"intern"},
		Resources: []string{"*"},
	})

	handler := Chain(okHandler("ok"),
		Recovery(),
		Audit(),
		Auth(provider),
		Authz(authorizer, unknownInfo),
	)

	rc := NewRequestContext(MethodCallTool, "search", nil)
	_, err := handler(context.Background(), rc)

	var authzErr *gwerrors.AuthzError
	require.ErrorAs(t, err, &authzErr)
	assert.Equal(t, err, rc.Err)
	assert.GreaterOrEqual(t, rc.ElapsedMS, int64(0))
}
