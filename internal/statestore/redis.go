package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings for the Redis-backed Store,
// the same shape as the teacher's session.RedisConfig.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisStore implements Store against Redis, generalizing the teacher's
// session-keyed Get/Put/SAdd pattern to the pipeline's IP-keyed
// counters, TTL flags, and sets.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies liveness, exactly the
// teacher's NewRedisStore dial-and-ping pattern.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "sentrywire:"
	}

	slog.Info("state store initialized", "addr", cfg.Addr, "key_prefix", keyPrefix)
	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *RedisStore) key(parts ...string) string {
	k := s.keyPrefix
	for _, p := range parts {
		k += p
	}
	return k
}

func (s *RedisStore) IsBlocked(ctx context.Context, ip string) (string, bool, error) {
	reason, err := s.client.Get(ctx, s.key("blocked:", ip)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("statestore: blocklist lookup for %s: %w", ip, err)
	}
	return reason, true, nil
}

func (s *RedisStore) Block(ctx context.Context, ip, reason string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key("blocked:", ip), reason, ttl).Err(); err != nil {
		return fmt.Errorf("statestore: block %s: %w", ip, err)
	}
	return nil
}

func (s *RedisStore) ResetBlock(ctx context.Context, ip string) error {
	if err := s.client.Del(ctx, s.key("blocked:", ip)).Err(); err != nil {
		return fmt.Errorf("statestore: reset block %s: %w", ip, err)
	}
	return nil
}

// IncrementRate implements the brute-force/rate-limit "TTL on first
// increment" pattern from spec.md §3/§5: INCR then EXPIRE only when
// the returned count is 1. Two concurrent callers both observing 1 and
// both issuing EXPIRE is a benign, deterministic race (spec.md §5).
func (s *RedisStore) IncrementRate(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := s.key(key)
	count, err := s.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, fmt.Errorf("statestore: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, full, ttl).Err(); err != nil {
			return count, fmt.Errorf("statestore: expire %s: %w", key, err)
		}
	}
	return count, nil
}

func (s *RedisStore) GetCounter(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, s.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("statestore: get counter %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), "true", ttl).Err(); err != nil {
		return fmt.Errorf("statestore: set flag %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) FlagExists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("statestore: flag exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) SetAdd(ctx context.Context, key, member string) error {
	if err := s.client.SAdd(ctx, s.key(key), member).Err(); err != nil {
		return fmt.Errorf("statestore: sadd %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key(key), member).Result()
	if err != nil {
		return false, fmt.Errorf("statestore: sismember %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying redis.Client so internal/queue can
// share the same connection pool instead of opening a second one.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
