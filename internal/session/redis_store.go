// Package session stores refresh tokens in Redis with a TTL.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenData holds the data stored for each refresh token.
type TokenData struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisStore implements refresh token storage using Redis. Keys share the
// service namespace so sessions are partitioned alongside the documents.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store from an existing Redis client.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: namespace + ":refresh:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveRefreshSession stores a refresh token with expiration.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, data TokenData, expiresAt time.Time) error {
	data.CreatedAt = time.Now()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession retrieves a refresh token's data.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (TokenData, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return TokenData{}, fmt.Errorf("token not found or expired")
	}
	if err != nil {
		return TokenData{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return TokenData{}, fmt.Errorf("unmarshal token data: %w", err)
	}
	if data.Role == "" {
		data.Role = "member"
	}
	return data, nil
}

// RevokeRefreshSession deletes a refresh token.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
