package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prontolink/prontolink/internal/logctx"
)

type identityKey struct{}

// IdentityFromContext returns the authenticated Identity attached by
// Middleware, or nil for unauthenticated requests.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// ContextWithIdentity attaches an Identity to the context. Exposed for tests
// and for handlers composed outside of Middleware.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// Middleware gates protected handlers behind bearer-token authentication.
// A missing Authorization header is rejected without invoking the
// authenticator. All failures produce the same generic 401 body; the real
// cause is logged only.
func Middleware(a Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthenticated(w)
				return
			}
			tok, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tok == "" {
				writeUnauthenticated(w)
				return
			}

			id, err := a.CheckAuthentication(r.Context(), tok)
			if err != nil {
				log.WarnContext(r.Context(), "authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("err", err.Error()),
				)
				writeUnauthenticated(w)
				return
			}

			ctx := ContextWithIdentity(r.Context(), id)
			ctx = logctx.WithUserData(ctx, &logctx.UserData{
				Subject:  id.Subject(),
				Username: id.Username(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": "not authenticated"})
}
