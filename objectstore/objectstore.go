// Package objectstore provides a small blob store used to stage handoff
// payloads between the mobile and desktop halves of an upload session.
package objectstore

import (
	"context"
	"time"
)

// Store is the blob interface the handoff protocol depends on. Writes are
// atomic: a payload is either fully visible under its key or absent.
type Store interface {
	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte, opts ...Option) error

	// Get retrieves the item for key. Returns (nil, nil) if the key does not
	// exist or has expired; errors are reserved for backend failures.
	Get(ctx context.Context, key string) (*Item, error)

	// GetDelete retrieves the item for key and removes it in the same
	// operation. Returns (nil, nil) if the key does not exist or has
	// expired. At most one caller can ever observe a given item.
	GetDelete(ctx context.Context, key string) (*Item, error)

	// Delete removes the item for key. Removing an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored blob with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// IsExpired reports whether the item's TTL has elapsed.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures a Put.
type Option func(*Options)

// Options holds per-operation settings.
type Options struct {
	TTL *time.Duration
}

// WithTTL bounds the stored item's lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = &ttl }
}
