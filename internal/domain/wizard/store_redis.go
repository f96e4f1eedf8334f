package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "evalportal:wizard:"

// RedisStore shares wizard progress across replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key Key) (State, error) {
	payload, err := r.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("redis get wizard: %w", err)
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, fmt.Errorf("decode wizard state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func (r *RedisStore) Put(ctx context.Context, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode wizard state: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+state.Key.String(), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set wizard: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	return r.client.Del(ctx, redisKeyPrefix+key.String()).Err()
}
