package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prontolink/prontolink/objectstore"
)

// ErrNoPayload indicates the session is valid but nothing has been staged
// for it (or the payload was already collected).
var ErrNoPayload = errors.New("handoff: no payload staged")

// Canonical protocol constants. Earlier revisions of the service disagreed
// on these (2-5 minute TTLs, 3-10 uploads); these are the settled values and
// remain configurable.
const (
	DefaultSessionTTL      = 180 * time.Second
	DefaultMaxUploads      = 3
	DefaultMaxPayloadBytes = 2 << 20 // 2 MiB
)

const objectKeyPrefix = "qrcode-uploads/"

// Config tunes the protocol. Zero values inherit the defaults above.
type Config struct {
	SessionTTL      time.Duration
	MaxUploads      int
	MaxPayloadBytes int64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SessionTTL <= 0 {
		out.SessionTTL = DefaultSessionTTL
	}
	if out.MaxUploads <= 0 {
		out.MaxUploads = DefaultMaxUploads
	}
	if out.MaxPayloadBytes <= 0 {
		out.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return out
}

// CreateSessionResult is returned to the desktop that initiated a handoff.
type CreateSessionResult struct {
	SessionID string `json:"session_id"`
	UploadURL string `json:"upload_url"`
	ExpiresIn int    `json:"expires_in"`
}

// Protocol orchestrates upload sessions: creation, payload validation,
// single-use retrieval, and expiry sweeping.
type Protocol struct {
	cfg      Config
	sessions *SessionStore
	objects  objectstore.Store
	log      *slog.Logger

	now func() time.Time
}

// New creates a Protocol staging payloads in the given object store.
func New(cfg Config, objects objectstore.Store, log *slog.Logger) *Protocol {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Protocol{
		cfg:      cfg,
		sessions: NewSessionStore(cfg.SessionTTL, cfg.MaxUploads),
		objects:  objects,
		log:      log,
		now:      time.Now,
	}
}

// Sessions exposes the underlying registry, primarily for tests.
func (p *Protocol) Sessions() *SessionStore { return p.sessions }

// MaxPayloadBytes reports the configured ceiling on a decoded payload.
func (p *Protocol) MaxPayloadBytes() int64 { return p.cfg.MaxPayloadBytes }

// CreateSession registers a session bound to the creating client's address.
// Expired sessions are swept opportunistically on each call so the registry
// stays bounded even without a periodic sweeper.
func (p *Protocol) CreateSession(ctx context.Context, clientAddr string) CreateSessionResult {
	if dropped := p.sessions.SweepExpired(); dropped > 0 {
		p.log.DebugContext(ctx, "swept expired sessions", slog.Int("dropped", dropped))
	}

	id := p.sessions.Create(clientAddr)
	p.log.InfoContext(ctx, "upload session created",
		slog.String("session", truncateID(id)),
		slog.String("client", clientAddr),
	)
	return CreateSessionResult{
		SessionID: id,
		UploadURL: "/upload-mobile/" + id,
		ExpiresIn: int(p.cfg.SessionTTL / time.Second),
	}
}

// SubmitUpload validates the session and payload, counts the upload against
// the session's quota, and stages the payload in the object store with one
// atomic write.
func (p *Protocol) SubmitUpload(ctx context.Context, sessionID, clientAddr string, payload *Payload) error {
	if !p.sessions.Validate(sessionID, clientAddr) {
		p.log.WarnContext(ctx, "upload against invalid session",
			slog.String("session", truncateID(sessionID)),
			slog.String("client", clientAddr),
		)
		return ErrSessionInvalid
	}

	if _, err := payload.Validate(p.cfg.MaxPayloadBytes); err != nil {
		p.log.WarnContext(ctx, "payload rejected",
			slog.String("session", truncateID(sessionID)),
			slog.String("err", err.Error()),
		)
		return err
	}

	if err := p.sessions.IncrementUpload(sessionID); err != nil {
		p.log.WarnContext(ctx, "upload rejected",
			slog.String("session", truncateID(sessionID)),
			slog.String("err", err.Error()),
		)
		return err
	}

	stored := StoredPayload{
		FileName:   payload.FileName,
		FileType:   payload.FileType,
		FileData:   payload.FileData,
		Prontuario: payload.Prontuario,
		UploadedAt: p.now(),
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshaling staged payload: %w", err)
	}
	if err := p.objects.Put(ctx, objectKey(sessionID), b, objectstore.WithTTL(p.cfg.SessionTTL)); err != nil {
		p.log.ErrorContext(ctx, "staging payload failed",
			slog.String("session", truncateID(sessionID)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("staging payload: %w", err)
	}

	p.log.InfoContext(ctx, "upload accepted",
		slog.String("session", truncateID(sessionID)),
		slog.String("prontuario", payload.Prontuario),
	)
	return nil
}

// CheckStatus validates the session and performs a destructive read of the
// staged payload: the first successful call returns it, every later call
// reports ErrNoPayload. This is what makes delivery at-most-once under
// retried polling.
func (p *Protocol) CheckStatus(ctx context.Context, sessionID, clientAddr string) (*StoredPayload, error) {
	if !p.sessions.Validate(sessionID, clientAddr) {
		return nil, ErrSessionInvalid
	}

	item, err := p.objects.GetDelete(ctx, objectKey(sessionID))
	if err != nil {
		p.log.ErrorContext(ctx, "reading staged payload failed",
			slog.String("session", truncateID(sessionID)),
			slog.String("err", err.Error()),
		)
		return nil, ErrNoPayload
	}
	if item == nil {
		return nil, ErrNoPayload
	}

	var stored StoredPayload
	if err := json.Unmarshal(item.Data, &stored); err != nil {
		p.log.ErrorContext(ctx, "staged payload corrupt",
			slog.String("session", truncateID(sessionID)),
			slog.String("err", err.Error()),
		)
		return nil, ErrNoPayload
	}

	p.log.InfoContext(ctx, "payload collected", slog.String("session", truncateID(sessionID)))
	return &stored, nil
}

// Sweep drops expired sessions and their staged payloads. The object store's
// own TTL is the backstop for payloads whose session was already gone.
func (p *Protocol) Sweep(ctx context.Context) int {
	return p.sessions.SweepExpired()
}

// RunSweeper sweeps on the given interval until the context is cancelled.
// Running it is optional; CreateSession sweeps opportunistically either way.
func (p *Protocol) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := p.Sweep(ctx); dropped > 0 {
				p.log.DebugContext(ctx, "swept expired sessions", slog.Int("dropped", dropped))
			}
		}
	}
}

func objectKey(sessionID string) string { return objectKeyPrefix + sessionID }

// truncateID shortens a session id for logging so full ids never land in
// logs.
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
