package keyset

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

func genJWKS(t *testing.T, kids ...string) []byte {
	t.Helper()
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{}
	for _, kid := range kids {
		pk, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("gen key: %v", err)
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"})
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

func TestGet_LazyFetchOnMiss(t *testing.T) {
	var fetches atomic.Int32
	jwks := genJWKS(t, "key-a")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	}))
	defer srv.Close()

	ks := New(srv.URL)
	ctx := context.Background()

	k, err := ks.Get(ctx, "key-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if k.KeyID != "key-a" {
		t.Fatalf("want kid key-a, got %q", k.KeyID)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("want 1 fetch, got %d", got)
	}

	// Cached hit must not re-fetch.
	if _, err := ks.Get(ctx, "key-a"); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("want 1 fetch after cached hit, got %d", got)
	}
}

func TestGet_UnknownKidAfterRefresh(t *testing.T) {
	var fetches atomic.Int32
	jwks := genJWKS(t, "key-a")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_, _ = w.Write(jwks)
	}))
	defer srv.Close()

	ks := New(srv.URL)
	ctx := context.Background()

	if err := ks.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	_, err := ks.Get(ctx, "key-missing")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	// One initial refresh plus exactly one forced refresh for the miss.
	if got := fetches.Load(); got != 2 {
		t.Fatalf("want 2 fetches, got %d", got)
	}
}

func TestGet_FetchFailureKeepsOldSet(t *testing.T) {
	var fail atomic.Bool
	jwks := genJWKS(t, "key-a")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(jwks)
	}))
	defer srv.Close()

	ks := New(srv.URL)
	ctx := context.Background()

	if _, err := ks.Get(ctx, "key-a"); err != nil {
		t.Fatalf("warm get: %v", err)
	}

	fail.Store(true)

	// A miss now fails with ErrUnavailable...
	if _, err := ks.Get(ctx, "key-b"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	// ...but the previously cached key is still served.
	if _, err := ks.Get(ctx, "key-a"); err != nil {
		t.Fatalf("cached key lost after failed refresh: %v", err)
	}
}

func TestGet_ConcurrentMissesShareOneFetch(t *testing.T) {
	var fetches atomic.Int32
	release := make(chan struct{})
	jwks := genJWKS(t, "key-a")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		<-release
		_, _ = w.Write(jwks)
	}))
	defer srv.Close()

	ks := New(srv.URL)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ks.Get(ctx, "key-a")
		}(i)
	}

	// Give every caller time to miss the empty cache and join the in-flight
	// fetch, then let the fetch complete.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("want a single shared fetch, got %d", got)
	}
}
