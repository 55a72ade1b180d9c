package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/developer-mesh/translation-gateway/internal/metrics"
	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

const (
	// CompressedKeyPrefix marks durable keys that hold compressed payloads
	CompressedKeyPrefix = "comp:"

	// DefaultDurableTTL is the TTL of durable entries (24h)
	DefaultDurableTTL = 86400 * time.Second

	// DefaultBreakerFailures trips the breaker after this many consecutive failures
	DefaultBreakerFailures = 5

	// DefaultBreakerTimeout is how long the breaker stays open before probing
	DefaultBreakerTimeout = 30 * time.Second
)

// TieredCacheConfig defines configuration for two-tier caching
type TieredCacheConfig struct {
	// Local tier (always enabled)
	LocalMaxSize    int
	LocalTTLCap     time.Duration
	JanitorInterval time.Duration

	// Durable tier, nil runs local-only
	Store      DurableStore
	DefaultTTL time.Duration

	// Compression
	EnableCompression  bool
	CompressionMinSize int
	Codec              Codec

	// Durable tier circuit breaker
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Logger  observability.Logger
	Metrics *metrics.Metrics
}

// Stats is a snapshot of TieredCache counters
type Stats struct {
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	MemoryHits       int64 `json:"memory_hits"`
	RedisHits        int64 `json:"redis_hits"`
	CompressedKeys   int64 `json:"compressed_keys"`
	ConnectionErrors int64 `json:"connection_errors"`
	Evictions        int64 `json:"cache_evictions"`
	DecompressErrors int64 `json:"decompress_errors"`
	LocalSize        int   `json:"local_size"`
	RemoteAvailable  bool  `json:"remote_available"`
}

// HitRate returns hits/(hits+misses) as a percentage
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// ToMap renders the stats for JSON status endpoints
func (s Stats) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"hits":              s.Hits,
		"misses":            s.Misses,
		"memory_hits":       s.MemoryHits,
		"redis_hits":        s.RedisHits,
		"compressed_keys":   s.CompressedKeys,
		"connection_errors": s.ConnectionErrors,
		"cache_evictions":   s.Evictions,
		"decompress_errors": s.DecompressErrors,
		"local_size":        s.LocalSize,
		"remote_available":  s.RemoteAvailable,
		"hit_rate":          s.HitRate(),
	}
}

type tieredStats struct {
	hits             atomic.Int64
	misses           atomic.Int64
	memoryHits       atomic.Int64
	redisHits        atomic.Int64
	compressedKeys   atomic.Int64
	connectionErrors atomic.Int64
	decompressErrors atomic.Int64
}

// TieredCache implements a two-tier caching strategy:
// - local: bounded in-memory cache, always consulted first
// - durable: remote store, best-effort, guarded by a circuit breaker
//
// Durable failures never surface to callers; they only degrade hit rates.
type TieredCache struct {
	local   *LocalCache
	store   DurableStore
	breaker *gobreaker.CircuitBreaker
	config  TieredCacheConfig
	logger  observability.Logger
	metrics *metrics.Metrics
	stats   tieredStats
}

// NewTieredCache creates a new two-tier cache
func NewTieredCache(config TieredCacheConfig) *TieredCache {
	if config.LocalTTLCap <= 0 {
		config.LocalTTLCap = DefaultLocalTTL
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultDurableTTL
	}
	if config.CompressionMinSize <= 0 {
		config.CompressionMinSize = DefaultCompressionMinSize
	}
	if config.EnableCompression && config.Codec == nil {
		config.Codec = &gzipCodec{level: DefaultCompressionLevel}
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = DefaultBreakerFailures
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = DefaultBreakerTimeout
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}

	tc := &TieredCache{
		local:   NewLocalCache(config.LocalMaxSize, config.LocalTTLCap, config.JanitorInterval),
		store:   config.Store,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
	}

	if tc.store != nil {
		failures := config.BreakerFailures
		tc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "durable-cache",
			MaxRequests: 1,
			Timeout:     config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				tc.logger.Warn("Durable cache circuit breaker state changed", map[string]interface{}{
					"name": name,
					"from": from.String(),
					"to":   to.String(),
				})
			},
		})
	}

	return tc
}

// Get retrieves a value, trying the local tier before the durable tier
func (tc *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := tc.local.Get(key); ok {
		tc.recordHit("local")
		return value, true
	}
	tc.metrics.RecordCacheOperation("local", "miss")

	if tc.store == nil {
		tc.stats.misses.Add(1)
		return nil, false
	}

	var raw map[string]Entry
	err := tc.callStore(func() error {
		var err error
		raw, err = tc.store.BatchGet(ctx, []string{key, CompressedKeyPrefix + key})
		return err
	})
	if err != nil {
		tc.handleStoreError("get", err, key)
		tc.stats.misses.Add(1)
		return nil, false
	}

	value, remaining, ok := tc.decode(key, raw)
	if !ok {
		tc.stats.misses.Add(1)
		tc.metrics.RecordCacheOperation("redis", "miss")
		return nil, false
	}

	tc.local.Set(key, value, tc.backfillTTL(remaining))
	tc.recordHit("redis")
	return value, true
}

// Set stores value in the local tier and attempts the durable tier. It
// reports true whenever the local write succeeded, which is always.
func (tc *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = tc.config.DefaultTTL
	}

	tc.local.Set(key, value, tc.localTTL(ttl))

	if tc.store == nil {
		return true
	}

	storeKey, payload, staleKey := tc.encode(key, value)
	err := tc.callStore(func() error {
		return tc.store.Set(ctx, storeKey, payload, ttl)
	})
	if err != nil {
		tc.handleStoreError("set", err, key)
		return true
	}

	tc.dropStale(ctx, staleKey)
	return true
}

// BatchGet retrieves several keys, consulting the local tier per key and
// fetching the remainder in one durable round trip.
func (tc *TieredCache) BatchGet(ctx context.Context, keys []string) map[string][]byte {
	result := make(map[string][]byte, len(keys))
	missing := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))

	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if value, ok := tc.local.Get(key); ok {
			result[key] = value
			tc.recordHit("local")
			continue
		}
		missing = append(missing, key)
	}

	if len(missing) == 0 {
		return result
	}

	if tc.store == nil {
		tc.stats.misses.Add(int64(len(missing)))
		return result
	}

	lookup := make([]string, 0, len(missing)*2)
	for _, key := range missing {
		lookup = append(lookup, key, CompressedKeyPrefix+key)
	}

	var raw map[string]Entry
	err := tc.callStore(func() error {
		var err error
		raw, err = tc.store.BatchGet(ctx, lookup)
		return err
	})
	if err != nil {
		tc.handleStoreError("batch_get", err, "")
		tc.stats.misses.Add(int64(len(missing)))
		return result
	}

	for _, key := range missing {
		value, remaining, ok := tc.decode(key, raw)
		if !ok {
			tc.stats.misses.Add(1)
			tc.metrics.RecordCacheOperation("redis", "miss")
			continue
		}
		tc.local.Set(key, value, tc.backfillTTL(remaining))
		result[key] = value
		tc.recordHit("redis")
	}

	return result
}

// BatchSet stores several entries: local synchronously, durable in one
// pipelined round trip. Like Set it always reports true.
func (tc *TieredCache) BatchSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) bool {
	if len(entries) == 0 {
		return true
	}
	if ttl <= 0 {
		ttl = tc.config.DefaultTTL
	}

	localTTL := tc.localTTL(ttl)
	for key, value := range entries {
		tc.local.Set(key, value, localTTL)
	}

	if tc.store == nil {
		return true
	}

	payloads := make(map[string][]byte, len(entries))
	stale := make([]string, 0, len(entries))
	for key, value := range entries {
		storeKey, payload, staleKey := tc.encode(key, value)
		payloads[storeKey] = payload
		stale = append(stale, staleKey)
	}

	err := tc.callStore(func() error {
		return tc.store.BatchSet(ctx, payloads, ttl)
	})
	if err != nil {
		tc.handleStoreError("batch_set", err, "")
		return true
	}

	tc.dropStale(ctx, stale...)
	return true
}

// GetStats returns current cache statistics
func (tc *TieredCache) GetStats() Stats {
	local := tc.local.Stats()
	return Stats{
		Hits:             tc.stats.hits.Load(),
		Misses:           tc.stats.misses.Load(),
		MemoryHits:       tc.stats.memoryHits.Load(),
		RedisHits:        tc.stats.redisHits.Load(),
		CompressedKeys:   tc.stats.compressedKeys.Load(),
		ConnectionErrors: tc.stats.connectionErrors.Load(),
		Evictions:        local.Evictions,
		DecompressErrors: tc.stats.decompressErrors.Load(),
		LocalSize:        local.Size,
		RemoteAvailable:  tc.RemoteAvailable(),
	}
}

// RemoteAvailable reports whether the durable tier is configured and its
// breaker is not open
func (tc *TieredCache) RemoteAvailable() bool {
	return tc.store != nil && tc.breaker.State() != gobreaker.StateOpen
}

// Close stops the local janitor and closes the durable store
func (tc *TieredCache) Close() error {
	tc.local.Close()
	if closer, ok := tc.config.Codec.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if tc.store != nil {
		return tc.store.Close()
	}
	return nil
}

// encode picks the durable key and payload for value. staleKey is the key of
// the other representation, which must not shadow the new write.
func (tc *TieredCache) encode(key string, value []byte) (storeKey string, payload []byte, staleKey string) {
	if tc.config.EnableCompression && len(value) >= tc.config.CompressionMinSize {
		compressed, err := tc.config.Codec.Compress(value)
		if err == nil {
			tc.stats.compressedKeys.Add(1)
			return CompressedKeyPrefix + key, compressed, key
		}
		tc.logger.Warn("Failed to compress value", map[string]interface{}{
			"error": err.Error(),
			"key":   key,
		})
	}
	return key, value, CompressedKeyPrefix + key
}

// decode returns the value for key from a durable lookup result along with
// its remaining TTL. A compressed payload wins over a plain one; an
// undecodable payload is a miss.
func (tc *TieredCache) decode(key string, raw map[string]Entry) ([]byte, time.Duration, bool) {
	if compressed, ok := raw[CompressedKeyPrefix+key]; ok {
		if tc.config.Codec == nil {
			tc.stats.decompressErrors.Add(1)
			return nil, 0, false
		}
		value, err := tc.config.Codec.Decompress(compressed.Value)
		if err != nil {
			tc.stats.decompressErrors.Add(1)
			tc.logger.Warn("Failed to decompress cached value", map[string]interface{}{
				"error": err.Error(),
				"key":   key,
			})
			return nil, 0, false
		}
		return value, compressed.TTL, true
	}

	entry, ok := raw[key]
	return entry.Value, entry.TTL, ok
}

func (tc *TieredCache) dropStale(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	err := tc.callStore(func() error {
		return tc.store.Delete(ctx, keys...)
	})
	if err != nil {
		tc.handleStoreError("delete", err, "")
	}
}

func (tc *TieredCache) callStore(fn func() error) error {
	_, err := tc.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (tc *TieredCache) handleStoreError(op string, err error, key string) {
	tc.stats.connectionErrors.Add(1)
	tc.metrics.RecordCacheOperation("redis", "error")

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		tc.logger.Debug("Durable cache unavailable, skipping", map[string]interface{}{
			"operation": op,
		})
		return
	}

	fields := map[string]interface{}{
		"operation": op,
		"error":     err.Error(),
	}
	if key != "" {
		fields["key"] = key
	}
	tc.logger.Warn("Durable cache operation failed", fields)
}

func (tc *TieredCache) recordHit(tier string) {
	tc.stats.hits.Add(1)
	if tier == "local" {
		tc.stats.memoryHits.Add(1)
	} else {
		tc.stats.redisHits.Add(1)
	}
	tc.metrics.RecordCacheOperation(tier, "hit")
}

func (tc *TieredCache) localTTL(ttl time.Duration) time.Duration {
	if ttl > tc.config.LocalTTLCap {
		return tc.config.LocalTTLCap
	}
	return ttl
}

// backfillTTL bounds a durable hit's local lifetime by what the durable tier
// has left on it. Entries without a reported expiry fall back to DefaultTTL.
func (tc *TieredCache) backfillTTL(remaining time.Duration) time.Duration {
	if remaining <= 0 {
		remaining = tc.config.DefaultTTL
	}
	return tc.localTTL(remaining)
}
