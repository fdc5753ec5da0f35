// Package httpapi exposes the upload-handoff protocol and the
// authentication gate over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prontolink/prontolink/auth"
	"github.com/prontolink/prontolink/handoff"
	"github.com/prontolink/prontolink/internal/logctx"
	"github.com/prontolink/prontolink/ratelimit"
)

// Per-endpoint request budgets, per client address per minute.
const (
	DefaultCreateSessionPerMinute = 5
	DefaultUploadPerMinute        = 3
	DefaultStatusPerMinute        = 30
	DefaultAPIPerMinute           = 60
)

// maxEnvelopeBytes is the allowance for everything in an upload body besides
// the base64 file data.
const maxEnvelopeBytes = 64 << 10

type Config struct {
	Authenticator auth.Authenticator
	Protocol      *handoff.Protocol
	Log           *slog.Logger

	CreateSessionPerMinute int
	UploadPerMinute        int
	StatusPerMinute        int
	APIPerMinute           int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Log == nil {
		out.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if out.CreateSessionPerMinute <= 0 {
		out.CreateSessionPerMinute = DefaultCreateSessionPerMinute
	}
	if out.UploadPerMinute <= 0 {
		out.UploadPerMinute = DefaultUploadPerMinute
	}
	if out.StatusPerMinute <= 0 {
		out.StatusPerMinute = DefaultStatusPerMinute
	}
	if out.APIPerMinute <= 0 {
		out.APIPerMinute = DefaultAPIPerMinute
	}
	return out
}

type server struct {
	cfg Config
	log *slog.Logger
}

// New builds the HTTP handler: health check, the authenticated desktop
// endpoints (session creation, status polling, identity snapshot) and the
// unauthenticated mobile upload endpoint, each behind its own per-address
// rate limiter.
func New(cfg Config) http.Handler {
	cfg = cfg.withDefaults()
	s := &server{cfg: cfg, log: cfg.Log}

	limitBy := func(n int) func(http.Handler) http.Handler {
		return ratelimit.Middleware(ratelimit.PerMinute(n), clientAddrFromRequest, cfg.Log)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	// Mobile side: the phone that scanned the QR code has no bearer token.
	r.With(limitBy(cfg.UploadPerMinute)).
		Post("/upload-mobile/{sessionID}", s.handleUpload)

	// Desktop side: authenticated.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Authenticator, cfg.Log))
		r.With(limitBy(cfg.CreateSessionPerMinute)).
			Post("/create-upload-session", s.handleCreateSession)
		r.With(limitBy(cfg.StatusPerMinute)).
			Get("/upload-status/{sessionID}", s.handleStatus)
		r.With(limitBy(cfg.APIPerMinute)).
			Get("/me", s.handleMe)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	res := s.cfg.Protocol.CreateSession(r.Context(), clientAddrFromRequest(r))
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	r = withSessionLog(r, sessionID)

	// Cap the transport read before decoding anything: base64 inflates the
	// file by 4/3 and the JSON envelope carries the remaining fields.
	limit := s.cfg.Protocol.MaxPayloadBytes()*4/3 + maxEnvelopeBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var payload handoff.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}

	err := s.cfg.Protocol.SubmitUpload(r.Context(), sessionID, clientAddrFromRequest(r), &payload)
	if err != nil {
		s.writeProtocolError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"prontuario": payload.Prontuario,
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	r = withSessionLog(r, sessionID)
	stored, err := s.cfg.Protocol.CheckStatus(r.Context(), sessionID, clientAddrFromRequest(r))
	if err != nil {
		s.writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":      id.Subject(),
		"username": id.Username(),
		"email":    id.Email(),
		"groups":   id.Groups(),
	})
}

// writeProtocolError maps handoff errors onto the wire without revealing
// which invalidity a session failure was.
func (s *server) writeProtocolError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, handoff.ErrSessionInvalid):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, handoff.ErrNoPayload):
		writeError(w, http.StatusNotFound, "no upload found")
	case errors.Is(err, handoff.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "upload limit reached")
	case errors.Is(err, handoff.ErrPayloadRejected):
		writeError(w, http.StatusUnprocessableEntity, rejectionDetail(err))
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rejectionDetail keeps the validation reason, which describes the caller's
// own input, but drops the package prefix.
func rejectionDetail(err error) string {
	return strings.TrimPrefix(err.Error(), "handoff: ")
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	mt, err := contenttype.GetMediaType(r)
	if err != nil || mt.Type != "application" || mt.Subtype != "json" {
		writeError(w, http.StatusUnsupportedMediaType, "expected application/json")
		return false
	}
	return true
}

func clientAddrFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withSessionLog annotates the request context so log records emitted while
// handling this session carry its truncated id.
func withSessionLog(r *http.Request, sessionID string) *http.Request {
	return r.WithContext(logctx.WithSessionData(r.Context(), &logctx.SessionData{
		SessionID:  shortSessionID(sessionID),
		ClientAddr: clientAddrFromRequest(r),
	}))
}

func shortSessionID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  middleware.GetReqID(r.Context()),
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
		r = r.WithContext(ctx)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.InfoContext(ctx, "request completed",
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
