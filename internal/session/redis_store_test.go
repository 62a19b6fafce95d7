package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test")
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store := setupTestRedis(t)

	ctx := context.Background()
	tokenHash := "test-token-hash"
	expiresAt := time.Now().Add(24 * time.Hour)

	err := store.SaveRefreshSession(ctx, tokenHash, TokenData{UserID: "user-123", DisplayName: "Avery", Role: "member"}, expiresAt)
	if err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	data, err := store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if data.UserID != "user-123" {
		t.Errorf("expected user ID user-123, got %s", data.UserID)
	}
	if data.Role != "member" {
		t.Errorf("expected role member, got %s", data.Role)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	store := NewRedisStore(client, "test")

	ctx := context.Background()
	err := store.SaveRefreshSession(ctx, "expired-token", TokenData{UserID: "user-456"}, time.Now().Add(1*time.Millisecond))
	if err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupRefreshSession(ctx, "expired-token"); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store := setupTestRedis(t)

	if _, err := store.LookupRefreshSession(context.Background(), "non-existent-token"); err == nil {
		t.Error("expected error for non-existent token, got nil")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store := setupTestRedis(t)

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "token-to-revoke", TokenData{UserID: "user-789"}, expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, "token-to-revoke"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "token-to-revoke"); err == nil {
		t.Error("expected error for revoked token, got nil")
	}

	// Revoking again should not error.
	if err := store.RevokeRefreshSession(ctx, "token-to-revoke"); err != nil {
		t.Errorf("RevokeRefreshSession for absent token failed: %v", err)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	storeA := NewRedisStore(client, "ns-a")
	storeB := NewRedisStore(client, "ns-b")

	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)
	if err := storeA.SaveRefreshSession(ctx, "shared-hash", TokenData{UserID: "user-a"}, expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	if _, err := storeB.LookupRefreshSession(ctx, "shared-hash"); err == nil {
		t.Error("expected token saved in ns-a to be invisible in ns-b")
	}
}
