package auth

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRevocationStore connects to a local Redis instance and cleans test
// revocation keys before and after.  Tests that call this helper require a
// running Redis on localhost:6379.
func newTestRevocationStore(t *testing.T) *RevocationStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, RevokedPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewRevocationStore(client)
}

func TestIsRevoked_NotRevoked(t *testing.T) {
	store := newTestRevocationStore(t)

	revoked, err := store.IsRevoked(context.Background(), "test_absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revoked {
		t.Error("expected token to not be revoked")
	}
}

func TestRevokeAndCheck(t *testing.T) {
	store := newTestRevocationStore(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "test_j1", 30*time.Second, "logout"); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, "test_j1")
	if err != nil {
		t.Fatalf("IsRevoked() error: %v", err)
	}
	if !revoked {
		t.Error("expected token to be revoked")
	}
}
