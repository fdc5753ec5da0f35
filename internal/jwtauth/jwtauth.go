// Package jwtauth verifies asymmetric-signature bearer tokens against a
// cached remote key set and maps their claims onto a normalized identity.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/prontolink/prontolink/internal/keyset"
)

// Verification failures. All are terminal for the presented token except
// ErrKeySetUnavailable, which is transient: the key set could not be fetched
// and verification fails closed.
var (
	ErrMalformed         = errors.New("jwtauth: malformed token")
	ErrNoKeyID           = errors.New("jwtauth: token header missing kid")
	ErrAlgNotAllowed     = errors.New("jwtauth: disallowed signing algorithm")
	ErrUnknownSigningKey = errors.New("jwtauth: unknown signing key")
	ErrBadSignature      = errors.New("jwtauth: bad signature")
	ErrExpired           = errors.New("jwtauth: token expired")
	ErrIssuerMismatch    = errors.New("jwtauth: issuer mismatch")
	ErrAudienceMismatch  = errors.New("jwtauth: audience mismatch")
	ErrKeySetUnavailable = keyset.ErrUnavailable
)

// Config controls validation behavior for bearer tokens.
type Config struct {
	// Issuer is the exact expected "iss" claim value. Required.
	Issuer string

	// ExpectedAudience, when non-empty, is enforced against the "aud" claim.
	// When empty, audience validation is skipped.
	ExpectedAudience string

	// AllowedAlgs restricts acceptable JWS algorithms. "none" is never
	// honored. Defaults to ["RS256"].
	AllowedAlgs []string

	// Leeway is the clock-skew tolerance for time-based claims.
	Leeway time.Duration

	// UsernameClaims are tried in order for the identity's username.
	UsernameClaims []string
	// EmailClaim names the claim holding the contact email.
	EmailClaim string
	// GroupsClaim names the claim holding group memberships.
	GroupsClaim string
}

// DefaultConfig returns a Config with safe algorithm and leeway defaults and
// claim names matching the upstream identity provider.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs:    []string{"RS256"},
		Leeway:         60 * time.Second,
		UsernameClaims: []string{"username", "cognito:username"},
		EmailClaim:     "email",
		GroupsClaim:    "cognito:groups",
	}
}

// Identity is the normalized output of a successful verification.
type Identity interface {
	// Subject returns the stable unique identifier for the user.
	Subject() string
	Username() string
	Email() string
	Groups() []string
	// Claims unmarshals the raw token claims into the provided reference.
	Claims(ref any) error
}

type identity struct {
	sub      string
	username string
	email    string
	groups   []string
	claims   map[string]any
}

func (id *identity) Subject() string  { return id.sub }
func (id *identity) Username() string { return id.username }
func (id *identity) Email() string    { return id.email }
func (id *identity) Groups() []string { return append([]string(nil), id.groups...) }
func (id *identity) Claims(ref any) error {
	b, err := json.Marshal(id.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Verifier validates bearer tokens. Verification is all-or-nothing: no
// partial identity is ever returned on failure.
type Verifier struct {
	cfg  *Config
	keys *keyset.Cache
}

// New builds a Verifier from the given config and key-set cache. Zero-valued
// config fields inherit DefaultConfig values.
func New(cfg *Config, keys *keyset.Cache) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if keys == nil {
		return nil, errors.New("key set cache is required")
	}
	def := DefaultConfig()
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = def.AllowedAlgs
	}
	if len(cfg.UsernameClaims) == 0 {
		cfg.UsernameClaims = def.UsernameClaims
	}
	if cfg.EmailClaim == "" {
		cfg.EmailClaim = def.EmailClaim
	}
	if cfg.GroupsClaim == "" {
		cfg.GroupsClaim = def.GroupsClaim
	}
	return &Verifier{cfg: cfg, keys: keys}, nil
}

// Verify validates the token's signature, issuer, and time-based claims and
// returns the normalized identity.
func (v *Verifier) Verify(ctx context.Context, tok string) (Identity, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.ExpectedAudience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.ExpectedAudience))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(tok, v.keyfunc(ctx))
	if err != nil {
		return nil, v.mapError(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformed)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformed)
	}

	id := &identity{sub: sub, claims: claims}
	for _, name := range v.cfg.UsernameClaims {
		if s, _ := claims[name].(string); s != "" {
			id.username = s
			break
		}
	}
	id.email, _ = claims[v.cfg.EmailClaim].(string)
	id.groups = stringSlice(claims[v.cfg.GroupsClaim])

	return id, nil
}

// keyfunc enforces the allowed algorithm set before any key lookup and then
// resolves the signing key through the cache, which performs at most one
// forced refresh on a miss.
func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		if !slices.Contains(v.cfg.AllowedAlgs, alg) {
			return nil, fmt.Errorf("%w: %s", ErrAlgNotAllowed, alg)
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrNoKeyID
		}
		k, err := v.keys.Get(ctx, kid)
		if err != nil {
			if errors.Is(err, keyset.ErrKeyNotFound) {
				return nil, fmt.Errorf("%w: kid %q", ErrUnknownSigningKey, kid)
			}
			return nil, err
		}
		return k.Key, nil
	}
}

func (v *Verifier) mapError(err error) error {
	switch {
	// Keyfunc failures come back wrapped by the parser; surface them as-is.
	case errors.Is(err, ErrAlgNotAllowed),
		errors.Is(err, ErrNoKeyID),
		errors.Is(err, ErrUnknownSigningKey),
		errors.Is(err, ErrKeySetUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuerMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...)
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
