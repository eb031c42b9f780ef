package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateRepository stores dialog state in redis with a TTL, so
// abandoned dialogs disappear on their own.
type RedisStateRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateRepository wraps an existing redis client.
func NewRedisStateRepository(client *redis.Client, ttl time.Duration) *RedisStateRepository {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStateRepository{client: client, ttl: ttl}
}

func stateKey(requesterID int64) string {
	return fmt.Sprintf("dialog:%d", requesterID)
}

func (r *RedisStateRepository) GetState(ctx context.Context, requesterID int64) (*DialogState, error) {
	val, err := r.client.Get(ctx, stateKey(requesterID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get state: %w", err)
	}

	var state DialogState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func (r *RedisStateRepository) SetState(ctx context.Context, state *DialogState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := r.client.Set(ctx, stateKey(state.RequesterID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}

func (r *RedisStateRepository) ClearState(ctx context.Context, requesterID int64) error {
	if err := r.client.Del(ctx, stateKey(requesterID)).Err(); err != nil {
		return fmt.Errorf("redis clear state: %w", err)
	}
	return nil
}
