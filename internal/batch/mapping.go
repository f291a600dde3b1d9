/**
 * Correlation-id to batch-name mapping
 *
 * Concurrent uploads sharing a correlation id must land in the same batch.
 * The mapping is allocated at most once per correlation id (SetNX) and held
 * in Redis until the batch is finalized.
 */

package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mapper resolves correlation ids to batch names
type Mapper interface {
	// Resolve returns the mapped batch name for the correlation id, or
	// ok=false when no mapping exists.
	Resolve(ctx context.Context, bank, correlationID string) (name string, ok bool, err error)

	// Claim stores the mapping unless one already exists; it returns the
	// winning name either way, so concurrent claimers converge.
	Claim(ctx context.Context, bank, correlationID, name string) (string, error)

	// Remove drops the mapping (called on batch finalize)
	Remove(ctx context.Context, bank, correlationID string) error

	Close() error
}

// RedisMapper implements Mapper on go-redis
type RedisMapper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMapper connects a mapper to the given Redis URL
func NewRedisMapper(redisURL string) (*RedisMapper, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisMapper{
		client: client,
		ttl:    72 * time.Hour,
	}, nil
}

func mappingKey(bank, correlationID string) string {
	return fmt.Sprintf("batchmap:%s:%s", bank, correlationID)
}

// Resolve returns the current mapping if present
func (m *RedisMapper) Resolve(ctx context.Context, bank, correlationID string) (string, bool, error) {
	val, err := m.client.Get(ctx, mappingKey(bank, correlationID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve batch mapping: %w", err)
	}
	return val, true, nil
}

// Claim sets the mapping once; losers of the race adopt the winner's name
func (m *RedisMapper) Claim(ctx context.Context, bank, correlationID, name string) (string, error) {
	key := mappingKey(bank, correlationID)
	set, err := m.client.SetNX(ctx, key, name, m.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to claim batch mapping: %w", err)
	}
	if set {
		return name, nil
	}
	val, err := m.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read claimed batch mapping: %w", err)
	}
	return val, nil
}

// Remove drops the mapping
func (m *RedisMapper) Remove(ctx context.Context, bank, correlationID string) error {
	if err := m.client.Del(ctx, mappingKey(bank, correlationID)).Err(); err != nil {
		return fmt.Errorf("failed to remove batch mapping: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (m *RedisMapper) Close() error {
	return m.client.Close()
}
