package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/spreadrun/internal/models"
)

// SnapshotStore shares chain snapshots between processes
type SnapshotStore interface {
	Load(ctx context.Context, symbol string) ([]models.OptionContract, bool, error)
	Save(ctx context.Context, symbol string, contracts []models.OptionContract) error
}

// snapshot is the stored JSON document
type snapshot struct {
	Symbol    string                  `json:"symbol"`
	Contracts []models.OptionContract `json:"contracts"`
	CachedAt  time.Time               `json:"cached_at"`
}

// RedisSnapshotStore keeps chain snapshots in Redis with a TTL
type RedisSnapshotStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisSnapshotStore connects a snapshot store to addr
func NewRedisSnapshotStore(addr string, db int, ttl time.Duration) *RedisSnapshotStore {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return newRedisSnapshotStore(client, ttl)
}

func newRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	if ttl <= 0 {
		ttl = DefaultContractTTL
	}
	return &RedisSnapshotStore{
		client:    client,
		keyPrefix: "spreadrun:chain:",
		ttl:       ttl,
		now:       time.Now,
	}
}

func (r *RedisSnapshotStore) key(symbol string) string {
	return r.keyPrefix + symbol
}

// Load fetches a snapshot; a missing key is a miss, not an error
func (r *RedisSnapshotStore) Load(ctx context.Context, symbol string) ([]models.OptionContract, bool, error) {
	raw, err := r.client.Get(ctx, r.key(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", symbol, err)
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", symbol, err)
	}
	return snap.Contracts, true, nil
}

// Save stores a snapshot under the store TTL
func (r *RedisSnapshotStore) Save(ctx context.Context, symbol string, contracts []models.OptionContract) error {
	data, err := encodeSnapshot(symbol, contracts, r.now().UTC())
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(symbol), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", symbol, err)
	}
	return nil
}

// Ping checks connectivity
func (r *RedisSnapshotStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client
func (r *RedisSnapshotStore) Close() error {
	return r.client.Close()
}

func encodeSnapshot(symbol string, contracts []models.OptionContract, at time.Time) (string, error) {
	data, err := json.Marshal(snapshot{Symbol: symbol, Contracts: contracts, CachedAt: at})
	if err != nil {
		return "", fmt.Errorf("encode snapshot %s: %w", symbol, err)
	}
	return string(data), nil
}
