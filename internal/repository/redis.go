package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leihsy/internal/config"
	"leihsy/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisTokenCache keeps minted transaction tokens in redis, keyed by
// booking and type, expiring together with the token itself.
type RedisTokenCache struct {
	client *redis.Client
}

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	return redis.NewClient(options)
}

func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

func tokenKey(bookingID int64, tokenType string) string {
	return fmt.Sprintf("txn_token:%d:%s", bookingID, tokenType)
}

func (r *RedisTokenCache) GetActive(ctx context.Context, bookingID int64, tokenType string) (*models.TransactionToken, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, tokenKey(bookingID, tokenType)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token from redis: %w", err)
	}

	var token models.TransactionToken
	if err := json.Unmarshal([]byte(val), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if token.Expired(time.Now()) {
		return nil, nil
	}
	return &token, nil
}

func (r *RedisTokenCache) Put(ctx context.Context, token *models.TransactionToken) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := r.client.Set(ctx, tokenKey(token.BookingID, token.Type), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token in redis: %w", err)
	}
	return nil
}

func (r *RedisTokenCache) Invalidate(ctx context.Context, bookingID int64, tokenType string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, tokenKey(bookingID, tokenType)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
