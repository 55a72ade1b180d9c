package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

const (
	// RedisConnectTimeout defines connection timeout for Redis
	RedisConnectTimeout = 5 * time.Second

	// RedisOperationTimeout bounds each Redis round trip
	RedisOperationTimeout = 2 * time.Second

	// DefaultKeyPrefix namespaces every key written by the gateway
	DefaultKeyPrefix = "translator:"
)

// Entry is a stored value together with its remaining time to live. TTL is
// zero when the store reports no expiry.
type Entry struct {
	Value []byte
	TTL   time.Duration
}

// DurableStore is the remote key/bytes/TTL contract. Absent keys are not errors;
// any returned error means the store could not be reached or failed.
type DurableStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	BatchGet(ctx context.Context, keys []string) (map[string]Entry, error)
	BatchSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// RedisStoreConfig configures a RedisStore
type RedisStoreConfig struct {
	Addr             string
	Password         string
	DB               int
	PoolSize         int
	KeyPrefix        string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	Logger           observability.Logger
}

// RedisStore implements DurableStore on go-redis
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
	logger    observability.Logger
}

// NewRedisStore connects to Redis and pings it. When the ping fails the store
// is still returned together with the error so callers can run degraded.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = RedisConnectTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = RedisOperationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.OperationTimeout,
		WriteTimeout: cfg.OperationTimeout,
	})

	store := NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.OperationTimeout, cfg.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return store, fmt.Errorf("redis ping failed: %w", err)
	}

	cfg.Logger.Info("Redis cache store initialized", map[string]interface{}{
		"addr": cfg.Addr,
		"db":   cfg.DB,
	})

	return store, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, opTimeout time.Duration, logger observability.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if opTimeout <= 0 {
		opTimeout = RedisOperationTimeout
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

func (s *RedisStore) makeKey(key string) string {
	return s.prefix + key
}

// Get returns the raw bytes stored under key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.makeKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores value with ttl
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return s.client.Set(ctx, s.makeKey(key), value, ttl).Err()
}

// BatchGet fetches keys with MGET and their remaining TTLs with PTTL in one
// pipelined round trip. Missing keys are omitted.
func (s *RedisStore) BatchGet(ctx context.Context, keys []string) (map[string]Entry, error) {
	result := make(map[string]Entry, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.makeKey(k)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var mget *redis.SliceCmd
	ttls := make([]*redis.DurationCmd, len(prefixed))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		mget = pipe.MGet(ctx, prefixed...)
		for i, k := range prefixed {
			ttls[i] = pipe.PTTL(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, v := range mget.Val() {
		var value []byte
		switch val := v.(type) {
		case string:
			value = []byte(val)
		case []byte:
			value = val
		default:
			continue
		}

		entry := Entry{Value: value}
		// PTTL answers -1 for no expiry and -2 for a key that vanished
		if ttl := ttls[i].Val(); ttl > 0 {
			entry.TTL = ttl
		}
		result[keys[i]] = entry
	}
	return result, nil
}

// BatchSet writes every entry in one pipelined round trip
func (s *RedisStore) BatchSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			pipe.Set(ctx, s.makeKey(k), v, ttl)
		}
		return nil
	})
	return err
}

// Delete removes keys
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.makeKey(k)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return s.client.Del(ctx, prefixed...).Err()
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
