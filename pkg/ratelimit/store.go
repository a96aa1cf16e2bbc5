package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists cooldown state.
type Store interface {
	// Load returns the stored state, or a zero State if none exists.
	Load(ctx context.Context) (State, error)

	// Save stores the state. ttl bounds how long the state is kept.
	Save(ctx context.Context, state State, ttl time.Duration) error
}

// MemoryStore keeps cooldown state in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// Save implements Store. The ttl is not needed in memory because Until
// already bounds the window.
func (m *MemoryStore) Save(_ context.Context, state State, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}

// RedisStore shares cooldown state across instances through Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context) (State, error) {
	var state State

	untilMillis, err := r.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, fmt.Errorf("get cooldown until: %w", err)
	}
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	state.Until = time.UnixMilli(untilMillis)

	hits, err := r.redis.Get(ctx, RedisKeyCooldownHits).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, fmt.Errorf("get cooldown hits: %w", err)
	}
	state.Hits = hits

	lastUpdateStr, err := r.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, fmt.Errorf("get last update: %w", err)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &state.LastUpdate); err != nil {
			return state, fmt.Errorf("parse last update: %w", err)
		}
	}

	return state, nil
}

// Save implements Store. All keys expire together after ttl.
func (r *RedisStore) Save(ctx context.Context, state State, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyCooldownUntil, state.Until.UnixMilli(), ttl)
	pipe.Set(ctx, RedisKeyCooldownHits, state.Hits, ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store cooldown state in redis: %w", err)
	}
	return nil
}
