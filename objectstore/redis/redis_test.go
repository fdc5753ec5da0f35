package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prontolink/prontolink/objectstore"
)

func TestRedisStore(t *testing.T) {
	// Skip test if Redis is not available
	probe := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx := context.Background()
	if err := probe.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer probe.Close()

	s, err := New(Config{RedisAddr: "127.0.0.1:6379", KeyPrefix: "prontolink:test:objects:"})
	if err != nil {
		t.Fatalf("Failed to create Redis store: %v", err)
	}
	defer s.Close()
	defer func() {
		keys, _ := probe.Keys(ctx, "prontolink:test:objects:*").Result()
		if len(keys) > 0 {
			probe.Del(ctx, keys...)
		}
	}()

	t.Run("PutAndGet", func(t *testing.T) {
		if err := s.Put(ctx, "k1", []byte("payload")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		item, err := s.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item == nil || string(item.Data) != "payload" {
			t.Fatalf("unexpected item: %+v", item)
		}
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		item, err := s.Get(ctx, "does-not-exist")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item != nil {
			t.Fatalf("want nil item, got %+v", item)
		}
	})

	t.Run("GetDeleteIsDestructive", func(t *testing.T) {
		if err := s.Put(ctx, "k2", []byte("once")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		item, err := s.GetDelete(ctx, "k2")
		if err != nil {
			t.Fatalf("GetDelete failed: %v", err)
		}
		if item == nil || string(item.Data) != "once" {
			t.Fatalf("unexpected item: %+v", item)
		}
		item, err = s.GetDelete(ctx, "k2")
		if err != nil {
			t.Fatalf("second GetDelete failed: %v", err)
		}
		if item != nil {
			t.Fatal("second GetDelete must find nothing")
		}
	})

	t.Run("TTL", func(t *testing.T) {
		if err := s.Put(ctx, "k3", []byte("short"), objectstore.WithTTL(time.Second)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		time.Sleep(1500 * time.Millisecond)
		item, err := s.Get(ctx, "k3")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item != nil {
			t.Fatal("expired item must not be returned")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Put(ctx, "k4", []byte("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Delete(ctx, "k4"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		item, err := s.Get(ctx, "k4")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item != nil {
			t.Fatal("deleted item must not be returned")
		}
	})
}
