package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func stores(t *testing.T) map[string]Store {
	_, rdb := newTestRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb, ""),
	}
}

func TestStore_RevokeAndCheck(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Revoke(ctx, "jti-1", now.Add(15*time.Minute)); err != nil {
				t.Fatalf("Revoke: %v", err)
			}
			revoked, err := s.IsRevoked(ctx, "jti-1")
			if err != nil || !revoked {
				t.Fatalf("IsRevoked(jti-1) = %v, %v; want true", revoked, err)
			}
			revoked, err = s.IsRevoked(ctx, "jti-2")
			if err != nil || revoked {
				t.Fatalf("IsRevoked(jti-2) = %v, %v; want false", revoked, err)
			}
		})
	}
}

func TestStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Revoke(ctx, "old", now.Add(-time.Minute))
			_ = s.Revoke(ctx, "edge", now)
			_ = s.Revoke(ctx, "live", now.Add(time.Minute))

			n, err := s.PurgeExpired(ctx, now)
			if err != nil || n != 2 {
				t.Fatalf("PurgeExpired = %d, %v; want 2", n, err)
			}
			if revoked, _ := s.IsRevoked(ctx, "live"); !revoked {
				t.Error("unexpired entry must survive purge")
			}
			if revoked, _ := s.IsRevoked(ctx, "old"); revoked {
				t.Error("expired entry should be purged")
			}
			n, _ = s.PurgeExpired(ctx, now)
			if n != 0 {
				t.Errorf("second purge removed %d, want 0", n)
			}
		})
	}
}

func TestStore_RevokeKeepsLaterExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Revoke(ctx, "jti", now.Add(time.Hour))
			_ = s.Revoke(ctx, "jti", now.Add(-time.Hour))
			if n, _ := s.PurgeExpired(ctx, now); n != 0 {
				t.Fatalf("purge removed %d, want 0", n)
			}
		})
	}
}

func TestRedisStore_Ping(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "custom")
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = s.Revoke(context.Background(), "x", time.Now().Add(time.Minute))
	if !mr.Exists("custom") {
		t.Error("custom key not used")
	}
}
