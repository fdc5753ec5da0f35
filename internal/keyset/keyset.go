// Package keyset caches the issuer's public signing keys (JWKS).
//
// The cached set is replaced wholesale on refresh so readers never block on a
// fetch in flight. A lookup miss triggers exactly one refresh; concurrent
// misses share a single fetch.
package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

// ErrKeyNotFound indicates the requested kid is absent from the key set even
// after a refresh.
var ErrKeyNotFound = errors.New("keyset: signing key not found")

// ErrUnavailable indicates the JWKS document could not be fetched or parsed.
// The previously cached set, if any, remains in effect.
var ErrUnavailable = errors.New("keyset: key set unavailable")

const defaultFetchTimeout = 10 * time.Second

// Cache fetches and caches a JSON Web Key Set from a well-known endpoint.
type Cache struct {
	jwksURL      string
	client       *http.Client
	fetchTimeout time.Duration

	keys  atomic.Pointer[jose.JSONWebKeySet]
	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient overrides the HTTP client used to fetch the JWKS document.
func WithHTTPClient(c *http.Client) Option {
	return func(ks *Cache) { ks.client = c }
}

// WithFetchTimeout bounds a single JWKS fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(ks *Cache) { ks.fetchTimeout = d }
}

// New creates a Cache that fetches keys from the given JWKS URL. No fetch is
// performed until the first lookup; use Refresh to warm the cache eagerly.
func New(jwksURL string, opts ...Option) *Cache {
	ks := &Cache{
		jwksURL:      jwksURL,
		client:       http.DefaultClient,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// NewFromDiscovery resolves the jwks_uri from the issuer's OIDC discovery
// document and returns a Cache pointed at it.
func NewFromDiscovery(ctx context.Context, issuer string, opts ...Option) (*Cache, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
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
		return nil, errors.New("discovery metadata missing jwks_uri")
	}
	return New(meta.JwksURI, opts...), nil
}

// Get returns the signing key for kid. On a miss it forces one refresh and
// retries the lookup once; if the kid is still absent it returns
// ErrKeyNotFound. Fetch failures surface as ErrUnavailable and leave any
// previously cached set intact.
func (ks *Cache) Get(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	if k := ks.lookup(kid); k != nil {
		return k, nil
	}
	if err := ks.Refresh(ctx); err != nil {
		return nil, err
	}
	if k := ks.lookup(kid); k != nil {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// Refresh fetches the JWKS document and replaces the cached set. Concurrent
// callers share one in-flight fetch.
func (ks *Cache) Refresh(ctx context.Context) error {
	_, err, _ := ks.group.Do("jwks", func() (any, error) {
		set, err := ks.fetch(ctx)
		if err != nil {
			return nil, err
		}
		ks.keys.Store(set)
		return nil, nil
	})
	return err
}

func (ks *Cache) lookup(kid string) *jose.JSONWebKey {
	set := ks.keys.Load()
	if set == nil {
		return nil
	}
	for i := range set.Keys {
		if set.Keys[i].KeyID == kid {
			return &set.Keys[i]
		}
	}
	return nil
}

func (ks *Cache) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, ks.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	res, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrUnavailable, res.StatusCode, ks.jwksURL)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(res.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decoding jwks document: %v", ErrUnavailable, err)
	}
	return &set, nil
}
