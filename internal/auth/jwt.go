package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"mcpgate/internal/config"
	"mcpgate/internal/gwerrors"
	"mcpgate/pkg/logging"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Validation errors surfaced to the auth middleware.
var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrKeyNotFound     = errors.New("signing key not found in JWKS")
)

// defaultAlgorithms are the accepted signing algorithms when the config
// does not narrow them.
var defaultAlgorithms = []string{"RS256", "ES256"}

// oidcDiscoveryDocument is the subset of the OIDC discovery response the
// gateway needs.
type oidcDiscoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// Claims are the parsed fields of a validated token.
type Claims struct {
	Subject string
	Issuer  string
	Email   string
	Name    string
	Roles   []string
	Raw     map[string]interface{}
}

// JWTValidator validates bearer JWTs against a JWKS key set fetched from
// jwks_uri (configured directly, or discovered from the issuer's
// well-known endpoint for the oidc type). Keys are cached with automatic
// refresh; an invalid signature triggers one forced re-fetch to cover key
// rotation.
type JWTValidator struct {
	issuer     string
	audience   string
	algorithms []string
	jwksURL    string

	cache *jwk.Cache

	// Lazy JWKS registration so a slow IdP does not block startup.
	registerOnce sync.Once
	registerErr  error
}

// NewJWTValidator builds a validator from the incoming auth configuration.
// For the oidc type, the JWKS URI is discovered from the issuer at
// construction time.
func NewJWTValidator(cfg config.AuthConfig) (*JWTValidator, error) {
	jwksURL := cfg.JWKSURI
	if cfg.Type == config.AuthOIDC || jwksURL == "" {
		if cfg.Issuer == "" {
			return nil, &gwerrors.ConfigError{
				Field:  "auth.issuer",
				Reason: "jwks_uri discovery requires an issuer",
			}
		}
		discovered, err := discoverJWKSURI(context.Background(), cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("OIDC discovery failed for issuer %s: %w", cfg.Issuer, err)
		}
		jwksURL = discovered
		logging.Info("Auth", "Discovered JWKS URI %s from issuer %s", jwksURL, cfg.Issuer)
	}

	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = defaultAlgorithms
	}

	cache, err := jwk.NewCache(context.Background(), httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	return &JWTValidator{
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		algorithms: algorithms,
		jwksURL:    jwksURL,
		cache:      cache,
	}, nil
}

// discoverJWKSURI fetches ${issuer}/.well-known/openid-configuration and
// returns the advertised jwks_uri.
func discoverJWKSURI(ctx context.Context, issuer string) (string, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var doc oidcDiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("invalid discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("discovery document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}

func (v *JWTValidator) ensureRegistered(ctx context.Context) error {
	v.registerOnce.Do(func() {
		registerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		v.registerErr = v.cache.Register(registerCtx, v.jwksURL)
	})
	return v.registerErr
}

// Validate parses and verifies token, returning its claims.
func (v *JWTValidator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := v.parse(ctx, tokenString, v.cachedKeySet)
	if err != nil {
		// Key rotation: an unknown kid or bad signature may mean the IdP
		// rotated keys since the last fetch. Fetch a fresh set once and
		// retry before failing.
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, ErrKeyNotFound) {
			logging.Debug("Auth", "JWT validation failed (%v), re-fetching JWKS and retrying once", err)
			claims, err = v.parse(ctx, tokenString, v.freshKeySet)
		}
		if err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// keySetFunc resolves the active JWKS.
type keySetFunc func(ctx context.Context) (jwk.Set, error)

func (v *JWTValidator) cachedKeySet(ctx context.Context) (jwk.Set, error) {
	if err := v.ensureRegistered(ctx); err != nil {
		return nil, fmt.Errorf("JWKS registration failed: %w", err)
	}
	return v.cache.Lookup(ctx, v.jwksURL)
}

func (v *JWTValidator) freshKeySet(ctx context.Context) (jwk.Set, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return jwk.Fetch(fetchCtx, v.jwksURL)
}

func (v *JWTValidator) parse(ctx context.Context, tokenString string, keySet keySetFunc) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.algorithms),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return keyForToken(ctx, token, keySet)
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidIssuer
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		default:
			return nil, err
		}
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claimsFromMap(mapClaims), nil
}

// keyForToken resolves the token's signing key from the supplied JWKS.
func keyForToken(ctx context.Context, token *jwt.Token, resolve keySetFunc) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export signing key: %w", err)
	}
	return rawKey, nil
}

// claimsFromMap extracts the well-known fields. Roles come from a "roles"
// claim or, as with Keycloak, realm_access.roles.
func claimsFromMap(m jwt.MapClaims) *Claims {
	claims := &Claims{Raw: m}
	if sub, ok := m["sub"].(string); ok {
		claims.Subject = sub
	}
	if iss, ok := m["iss"].(string); ok {
		claims.Issuer = iss
	}
	if email, ok := m["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := m["name"].(string); ok {
		claims.Name = name
	}
	claims.Roles = extractRoles(m)
	return claims
}

func extractRoles(m jwt.MapClaims) []string {
	if roles := stringSlice(m["roles"]); len(roles) > 0 {
		return roles
	}
	if realmAccess, ok := m["realm_access"].(map[string]interface{}); ok {
		return stringSlice(realmAccess["roles"])
	}
	return nil
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
