// Package s3 provides an S3-compatible implementation of the objectstore
// interface using the MinIO client. Because S3 has no atomic get-and-delete,
// GetDelete issues the delete immediately after a successful read; callers
// that need a strict at-most-once guarantee under concurrent polling should
// prefer the Redis backend.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/prontolink/prontolink/objectstore"
)

// Config for the S3-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// Endpoint like "s3.amazonaws.com". ENV: S3_ENDPOINT
	Endpoint string `env:"S3_ENDPOINT,default=s3.amazonaws.com"`
	// Bucket holding staged payloads. ENV: S3_BUCKET
	Bucket string `env:"S3_BUCKET"`
	// AccessKey / SecretKey. ENV: S3_ACCESS_KEY / S3_SECRET_KEY
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	// UseSSL toggles TLS. ENV: S3_USE_SSL
	UseSSL bool `env:"S3_USE_SSL,default=true"`
	// KeyPrefix for all objects, empty by default since callers already
	// namespace their keys. ENV: OBJECTSTORE_KEY_PREFIX
	KeyPrefix string `env:"OBJECTSTORE_KEY_PREFIX"`
}

// Store implements objectstore.Store on an S3-compatible bucket.
type Store struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates an S3-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding s3 config: %w", err)
	}
	return New(cfg)
}

func (s *Store) Put(ctx context.Context, key string, data []byte, opts ...objectstore.Option) error {
	options := &objectstore.Options{}
	for _, opt := range opts {
		opt(options)
	}

	now := time.Now()
	item := storedItem{Data: data, CreatedAt: now}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal stored item: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(key), bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*objectstore.Item, error) {
	return s.get(ctx, key, false)
}

func (s *Store) GetDelete(ctx context.Context, key string) (*objectstore.Item, error) {
	return s.get(ctx, key, true)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (s *Store) Close() error { return nil }

func (s *Store) key(key string) string { return s.keyPrefix + key }

func (s *Store) get(ctx context.Context, key string, destroy bool) (*objectstore.Item, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	var item storedItem
	if err := json.Unmarshal(b, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	out := &objectstore.Item{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}
	if out.IsExpired() {
		_ = s.Delete(ctx, key)
		return nil, nil
	}
	if destroy {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

var _ objectstore.Store = (*Store)(nil)
