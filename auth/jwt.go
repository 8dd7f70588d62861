package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates the access token failed validation (signature,
// issuer, audience, exp/nbf) and no principal can be derived from it.
var ErrUnauthorized = errors.New("auth: unauthorized")

// JWTConfig controls validation behavior for bearer access tokens that are
// JWTs. Verified tokens become TokenPrincipal values; the token itself is
// never used as a session credential.
type JWTConfig struct {
	Issuer            string
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration

	// PermissionsClaim names the claim carrying permission names. When the
	// claim is absent, space-separated "scope" values are used instead.
	PermissionsClaim string
}

// DefaultJWTConfig returns a JWTConfig with safe algorithm and leeway
// defaults.
func DefaultJWTConfig() *JWTConfig {
	return &JWTConfig{
		AllowedAlgs:      []string{"RS256"},
		Leeway:           60 * time.Second,
		PermissionsClaim: "permissions",
	}
}

// JWTVerifier validates JWT access tokens and mints principals from their
// claims.
type JWTVerifier struct {
	cfg     *JWTConfig
	keyfunc jwt.Keyfunc
}

// NewJWTVerifier constructs a verifier against a statically configured JWKS
// URI (no discovery). JWKS keys are auto-refreshed.
func NewJWTVerifier(ctx context.Context, cfg *JWTConfig, jwksURI string) (*JWTVerifier, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &JWTVerifier{cfg: cfg, keyfunc: guardAlgs(cfg.AllowedAlgs, kf.Keyfunc)}, nil
}

// NewJWTVerifierFromDiscovery performs OIDC discovery against cfg.Issuer to
// obtain the jwks_uri, then behaves like NewJWTVerifier.
func NewJWTVerifierFromDiscovery(ctx context.Context, cfg *JWTConfig) (*JWTVerifier, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &JWTVerifier{cfg: cfg, keyfunc: guardAlgs(cfg.AllowedAlgs, kf.Keyfunc)}, nil
}

// NewJWTVerifierWithKeyfunc constructs a verifier from an explicit key
// resolver. Primarily for tests using symmetric keys.
func NewJWTVerifierWithKeyfunc(cfg *JWTConfig, kf jwt.Keyfunc) (*JWTVerifier, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if kf == nil {
		return nil, errors.New("keyfunc required")
	}
	return &JWTVerifier{cfg: cfg, keyfunc: guardAlgs(cfg.AllowedAlgs, kf)}, nil
}

func checkConfig(cfg *JWTConfig) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return errors.New("at least one expected audience required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	if cfg.PermissionsClaim == "" {
		cfg.PermissionsClaim = "permissions"
	}
	return nil
}

func guardAlgs(allowed []string, kf jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		for _, a := range allowed {
			if alg == a {
				return kf(t)
			}
		}
		return nil, fmt.Errorf("disallowed alg: %s", alg)
	}
}

// Verify validates tok and returns a principal carrying the subject and
// permission claims.
func (v *JWTVerifier) Verify(ctx context.Context, tok string) (*TokenPrincipal, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	return &TokenPrincipal{
		subject:     sub,
		permissions: permissionsFromClaims(claims, v.cfg.PermissionsClaim),
	}, nil
}

// permissionsFromClaims reads the configured permissions claim (string list
// or single string), falling back to space-separated OAuth scope values.
func permissionsFromClaims(claims jwt.MapClaims, claim string) []string {
	switch v := claims[claim].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case string:
		return []string{v}
	}

	if scope, ok := claims["scope"].(string); ok && scope != "" {
		return strings.Fields(scope)
	}
	return nil
}

func audIntersects(aud any, wants []string) bool {
	wantSet := make(map[string]struct{}, len(wants))
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}

// TokenPrincipal is a principal derived from a verified JWT. It exposes the
// lister, checker and describer capabilities.
type TokenPrincipal struct {
	subject     string
	permissions []string
}

// Subject returns the token's sub claim.
func (p *TokenPrincipal) Subject() string { return p.subject }

// GetPermissions implements sessions.PermissionLister.
func (p *TokenPrincipal) GetPermissions() []string {
	return append([]string(nil), p.permissions...)
}

// CheckPermission implements sessions.PermissionChecker.
func (p *TokenPrincipal) CheckPermission(name string) bool {
	for _, perm := range p.permissions {
		if perm == name {
			return true
		}
	}
	return false
}

// Describe implements sessions.Describer.
func (p *TokenPrincipal) Describe() map[string]any {
	return map[string]any{
		"subject":     p.subject,
		"permissions": p.GetPermissions(),
	}
}
