package auth

import (
	"context"
	"errors"
	"time"

	"github.com/prontolink/prontolink/internal/jwtauth"
	"github.com/prontolink/prontolink/internal/keyset"
)

// Config describes the token-verification policy.
type Config struct {
	// Issuer is the expected issuer URL. Required.
	Issuer string

	// Audience, when non-empty, is enforced against the token's "aud" claim.
	Audience string

	// JWKSURL points directly at the issuer's key-set document. When empty,
	// the URL is resolved from the issuer's OIDC discovery document.
	JWKSURL string

	// AllowedAlgs restricts acceptable JWS algorithms. Defaults to ["RS256"].
	AllowedAlgs []string

	// Leeway is the clock-skew tolerance for time-based claims.
	Leeway time.Duration

	// UsernameClaims, EmailClaim, and GroupsClaim control how token claims
	// map onto the Identity. Defaults follow the upstream identity provider.
	UsernameClaims []string
	EmailClaim     string
	GroupsClaim    string
}

// NewVerifier builds an Authenticator that validates bearer tokens signed by
// the configured issuer. The key set is fetched lazily; a fetch failure at
// construction is not fatal because keys load on first verification.
func NewVerifier(ctx context.Context, cfg Config) (Authenticator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	var keys *keyset.Cache
	if cfg.JWKSURL != "" {
		keys = keyset.New(cfg.JWKSURL)
	} else {
		var err error
		keys, err = keyset.NewFromDiscovery(ctx, cfg.Issuer)
		if err != nil {
			return nil, err
		}
	}
	// Warm the cache eagerly but tolerate failure.
	_ = keys.Refresh(ctx)

	internal, err := jwtauth.New(&jwtauth.Config{
		Issuer:           cfg.Issuer,
		ExpectedAudience: cfg.Audience,
		AllowedAlgs:      cfg.AllowedAlgs,
		Leeway:           cfg.Leeway,
		UsernameClaims:   cfg.UsernameClaims,
		EmailClaim:       cfg.EmailClaim,
		GroupsClaim:      cfg.GroupsClaim,
	}, keys)
	if err != nil {
		return nil, err
	}
	return &adapter{v: internal}, nil
}

// adapter wraps the internal verifier to satisfy the public interface.
type adapter struct {
	v *jwtauth.Verifier
}

func (a *adapter) CheckAuthentication(ctx context.Context, tok string) (Identity, error) {
	id, err := a.v.Verify(ctx, tok)
	if err != nil {
		// Every verification failure, transient or not, fails closed.
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return id, nil
}
