package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mcpgate/pkg/logging"

	"golang.org/x/oauth2/clientcredentials"
)

// tokenExpiryBuffer is how long before a token's actual expiry the cache
// treats it as stale, so a refresh happens in time.
const tokenExpiryBuffer = 30 * time.Second

// tokenCache is a single-token cache with early expiry.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Get returns the cached token if still valid.
func (c *tokenCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Set stores token with a lifetime of expiresIn minus the refresh buffer.
func (c *tokenCache) Set(token string, expiresIn time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	effective := expiresIn - tokenExpiryBuffer
	if effective < 0 {
		effective = 0
	}
	c.token = token
	c.expiresAt = time.Now().Add(effective)
}

// Invalidate clears the cached token.
func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

// clientCredentialsSource fetches bearer tokens via the OAuth2 client
// credentials grant and caches them.
type clientCredentialsSource struct {
	backend string
	config  *clientcredentials.Config
	cache   tokenCache
}

func newClientCredentialsSource(backend, tokenURL, clientID, clientSecret string, scopes []string) *clientCredentialsSource {
	return &clientCredentialsSource{
		backend: backend,
		config: &clientcredentials.Config{
			TokenURL:     tokenURL,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
		},
	}
}

// Token returns a valid bearer token, fetching a fresh one when the cache
// is empty or stale.
func (s *clientCredentialsSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.cache.Get(); ok {
		return token, nil
	}

	token, err := s.config.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch oauth2 token for backend %s: %w", s.backend, err)
	}

	s.cache.Set(token.AccessToken, time.Until(token.Expiry))
	logging.Debug("OutgoingAuth", "Fetched oauth2 token for backend %s (expires %s)", s.backend, token.Expiry.Format(time.RFC3339))
	return token.AccessToken, nil
}

// Invalidate drops the cached token, forcing a refresh on next use.
func (s *clientCredentialsSource) Invalidate() {
	s.cache.Invalidate()
}

// oauthTransport injects a bearer token into every request. On a 401
// response it invalidates the cache and retries once with a fresh token
// before surfacing the failure.
type oauthTransport struct {
	base   http.RoundTripper
	source *clientCredentialsSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token(req.Context())
	if err != nil {
		return nil, err
	}

	resp, err := t.roundTripWithToken(req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// Body cannot be replayed; surface the 401 as-is.
		return resp, nil
	}

	// One forced refresh on 401.
	resp.Body.Close()
	t.source.Invalidate()
	logging.Debug("OutgoingAuth", "Got 401 from backend %s, refreshing token once", t.source.backend)

	token, err = t.source.Token(req.Context())
	if err != nil {
		return nil, err
	}
	return t.roundTripWithToken(req, token)
}

func (t *oauthTransport) roundTripWithToken(req *http.Request, token string) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	clone.Header.Set("Authorization", "Bearer "+token)

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// newOAuthHTTPClient builds an http.Client whose requests carry
// client-credentials bearer tokens.
func newOAuthHTTPClient(source *clientCredentialsSource) *http.Client {
	return &http.Client{
		Transport: &oauthTransport{source: source},
	}
}
