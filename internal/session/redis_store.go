// Package session provides the Redis backend for refresh-token sessions.
// When Redis is not configured the Postgres store serves the same interface.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"extrapl/api/internal/store"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "refresh:"

// ErrSessionNotFound is returned when a refresh token is unknown or expired.
var ErrSessionNotFound = errors.New("refresh session not found")

// refreshRecord is the JSON payload stored per token hash. It carries enough
// of the user to re-issue an access token without a database read; the
// authoritative user row is re-read during rotation anyway.
type refreshRecord struct {
	UserID      string    `json:"userId"`
	OrgID       string    `json:"orgId"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis from a URL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveRefreshSession stores the token with a TTL matching its expiry.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, u store.User, expiresAt time.Time) error {
	payload, err := json.Marshal(refreshRecord{
		UserID:      u.ID,
		OrgID:       u.OrgID,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal refresh session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if err := s.client.Set(ctx, keyPrefix+tokenHash, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a token hash back to its user.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	raw, err := s.client.Get(ctx, keyPrefix+tokenHash).Result()
	if err == redis.Nil {
		return store.User{}, ErrSessionNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var rec refreshRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return store.User{}, fmt.Errorf("unmarshal refresh session: %w", err)
	}
	role := rec.Role
	if role == "" {
		role = "viewer"
	}
	return store.User{
		ID:          rec.UserID,
		OrgID:       rec.OrgID,
		DisplayName: rec.DisplayName,
		Role:        role,
	}, nil
}

// RevokeRefreshSession deletes the token; revoking an unknown token is a no-op.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, keyPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
