// Package ratelimit provides a per-client token bucket keyed on the
// client's network address.
package ratelimit

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneAfter is how long a client's bucket may sit idle before it is
// dropped from the registry.
const pruneAfter = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per client key. Buckets are created on
// first use and pruned after sitting idle.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int

	now func() time.Time
}

// PerMinute returns a Limiter allowing n requests per minute per client,
// with a burst of n.
func PerMinute(n int) *Limiter {
	return New(rate.Every(time.Minute/time.Duration(n)), n)
}

// New returns a Limiter with the given refill rate and burst per client.
func New(limit rate.Limit, burst int) *Limiter {
	return &Limiter{
		clients: make(map[string]*client),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether the client identified by key may proceed, consuming
// one token if so. Idle buckets are pruned opportunistically.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, c := range l.clients {
		if now.Sub(c.lastSeen) > pruneAfter {
			delete(l.clients, k)
		}
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.Allow()
}

// Len reports the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware rejects requests beyond the client's budget with 429. The key
// function extracts the client identity from the request; callers usually
// pass the client's host address.
func Middleware(l *Limiter, key func(*http.Request) string, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !l.Allow(k) {
				log.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("client", k),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"detail": "too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
