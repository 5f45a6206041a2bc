package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript atomically increments a counter and sets its expiration.
// Running INCR, EXPIRE, and TTL as one script keeps concurrent requests from
// different replicas from interleaving and under-counting. Returns
// [count, ttl] where count is the new value and ttl the remaining seconds.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('TTL', KEYS[1])
return {count, ttl}
`)

// Redis is the Redis-backed Store used in all shared deployments. Counters,
// cache entries, and the popularity sorted set all live in the same logical
// database, namespaced by key prefix conventions.
type Redis struct {
	client *redis.Client
}

// RedisConfig holds connection settings. Fields are populated by the caller
// from its own configuration source; this package never reads the
// environment.
type RedisConfig struct {
	// Addr is the Redis server address (e.g. "localhost:6379").
	Addr string

	// Password for Redis authentication (optional).
	Password string

	// DB is the Redis database number.
	DB int

	// DialTimeout bounds connection establishment (default 5s).
	DialTimeout time.Duration

	// ReadTimeout bounds socket reads (default 3s).
	ReadTimeout time.Duration

	// WriteTimeout bounds socket writes (default ReadTimeout).
	WriteTimeout time.Duration
}

// NewRedis creates a Redis store. The connection is validated with a ping;
// an error here is the startup signal that the gateway is running degraded
// (callers then fail open on cache and rate limiting).
func NewRedis(config RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}

	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Increment runs the atomic INCR+EXPIRE script for the key.
func (r *Redis) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	result, err := incrScript.Run(ctx, r.client, []string{key}, int(window.Seconds())).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis increment failed: %w", err)
	}

	if len(result) != 2 {
		return 0, 0, fmt.Errorf("unexpected result length: got %d, want 2", len(result))
	}

	count, ok := result[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected type for count: %T", result[0])
	}

	ttlSeconds, ok := result[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected type for ttl: %T", result[1])
	}

	return count, time.Duration(ttlSeconds) * time.Second, nil
}

// GetCount retrieves the current counter value without incrementing.
// Returns 0 if the key doesn't exist or has expired.
func (r *Redis) GetCount(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

// Reset removes the counter for the given key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis reset failed: %w", err)
	}
	return nil
}

// Get retrieves a cached value. Returns ("", false, nil) on a miss.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

// Set stores a value with the given TTL.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// DeletePattern removes all keys matching the glob pattern, scanning in
// batches and unlinking through a pipeline so large invalidations never
// block the server.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			pipe := r.client.Pipeline()
			for _, k := range keys {
				pipe.Unlink(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("redis unlink failed: %w", err)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return nil
}

// SortedIncr adds delta to the member's score and refreshes the expiry of
// the whole sorted set. The expiry is rolling: every increment pushes it out
// again, so an actively-used structure never lapses.
func (r *Redis) SortedIncr(ctx context.Context, key, member string, delta float64, expiry time.Duration) (float64, error) {
	pipe := r.client.Pipeline()
	incr := pipe.ZIncrBy(ctx, key, delta, member)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis zincrby failed: %w", err)
	}
	return incr.Val(), nil
}

// SortedTopN returns up to n members by score descending.
func (r *Redis) SortedTopN(ctx context.Context, key string, n int64) ([]ScoredMember, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := r.client.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}
	members := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		members = append(members, ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

// Ping probes the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
