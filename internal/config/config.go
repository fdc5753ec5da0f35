// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config for the prontolink service. Defaults are loaded via envdecode.
type Config struct {
	// ListenAddr like "127.0.0.1:8080". ENV: LISTEN_ADDR
	ListenAddr string `env:"LISTEN_ADDR,default=127.0.0.1:8080"`

	// Issuer is the token issuer URL. ENV: OIDC_ISSUER
	Issuer string `env:"OIDC_ISSUER"`
	// Audience, when set, is enforced against the token's aud claim.
	// ENV: OIDC_AUDIENCE
	Audience string `env:"OIDC_AUDIENCE"`
	// JWKSURL overrides OIDC discovery of the key-set endpoint.
	// ENV: OIDC_JWKS_URL
	JWKSURL string `env:"OIDC_JWKS_URL"`
	// Leeway applied to token time-based claims. ENV: OIDC_LEEWAY
	Leeway time.Duration `env:"OIDC_LEEWAY,default=60s"`

	// SessionTTL bounds upload sessions and staged payloads.
	// ENV: SESSION_TTL
	SessionTTL time.Duration `env:"SESSION_TTL,default=180s"`
	// MaxUploads per session. ENV: SESSION_MAX_UPLOADS
	MaxUploads int `env:"SESSION_MAX_UPLOADS,default=3"`
	// MaxPayloadBytes bounds a decoded upload. ENV: MAX_PAYLOAD_BYTES
	MaxPayloadBytes int64 `env:"MAX_PAYLOAD_BYTES,default=2097152"`
	// SweepInterval for the background session sweeper; 0 disables it.
	// ENV: SWEEP_INTERVAL
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=60s"`

	// ObjectStore selects the payload staging backend: memory, redis or s3.
	// ENV: OBJECT_STORE
	ObjectStore string `env:"OBJECT_STORE,default=memory"`

	// Per-client-address request budgets, per minute.
	CreateSessionPerMinute int `env:"RATE_CREATE_SESSION_PER_MINUTE,default=5"`
	UploadPerMinute        int `env:"RATE_UPLOAD_PER_MINUTE,default=3"`
	StatusPerMinute        int `env:"RATE_STATUS_PER_MINUTE,default=30"`
	APIPerMinute           int `env:"RATE_API_PER_MINUTE,default=60"`

	// LogLevel: debug, info, warn or error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load populates Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("OIDC_ISSUER is required")
	}
	switch cfg.ObjectStore {
	case "memory", "redis", "s3":
	default:
		return nil, fmt.Errorf("unknown OBJECT_STORE %q", cfg.ObjectStore)
	}
	return &cfg, nil
}
