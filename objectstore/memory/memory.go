// Package memory provides an in-memory implementation of the objectstore
// interface using github.com/hashicorp/golang-lru/v2, with a background
// sweeper for expired items.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/prontolink/prontolink/objectstore"
)

const sweepInterval = time.Minute

// Store implements objectstore.Store in process memory.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *objectstore.Item]
	stop  chan struct{}
	once  sync.Once
}

// New creates an in-memory store bounded to maxItems entries.
func New(maxItems int) (*Store, error) {
	cache, err := lru.New[string, *objectstore.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Store{cache: cache, stop: make(chan struct{})}
	go s.sweepExpired()
	return s, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, opts ...objectstore.Option) error {
	options := &objectstore.Options{}
	for _, opt := range opts {
		opt(options)
	}

	now := time.Now()
	item := &objectstore.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(key, item)
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*objectstore.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.cache.Remove(key)
		return nil, nil
	}
	return item, nil
}

func (s *Store) GetDelete(ctx context.Context, key string) (*objectstore.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	// Removal happens under the same lock as the read so no two callers can
	// observe the same item.
	s.cache.Remove(key)
	if item.IsExpired() {
		return nil, nil
	}
	return item, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func (s *Store) sweepExpired() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, ok := s.cache.Peek(key); ok {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}

var _ objectstore.Store = (*Store)(nil)
