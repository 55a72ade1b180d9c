// Package translator dispatches translation requests to the upstream provider
// through a process-wide concurrency bound, with retry and read/write-through
// caching.
package translator

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/developer-mesh/translation-gateway/internal/metrics"
	"github.com/developer-mesh/translation-gateway/internal/provider"
	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

const (
	DefaultMaxConcurrentRequests = 50
	DefaultUpstreamTimeout       = 2 * time.Second
	DefaultMaxAttempts           = 3
	DefaultRetryBase             = 500 * time.Millisecond
	DefaultCacheTTL              = 86400 * time.Second
	DefaultMaxBatchSize          = 100
	DefaultMaxChunkChars         = 5000
)

// Upstream is the provider contract the translator depends on
type Upstream interface {
	Translate(ctx context.Context, text, from, to string) (*provider.Response, error)
}

// Cache is the multi-tier cache contract. Implementations absorb their own
// failures: a failed read is a miss and a failed write still reports true.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	BatchGet(ctx context.Context, keys []string) map[string][]byte
	BatchSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) bool
}

// Config configures a Translator
type Config struct {
	MaxConcurrentRequests int
	UpstreamTimeout       time.Duration
	MaxAttempts           int
	RetryBase             time.Duration
	CacheTTL              time.Duration
	MaxBatchSize          int
	MaxChunkChars         int

	Logger         observability.Logger
	Metrics        *metrics.Metrics
	TracerProvider trace.TracerProvider
}

// Stats is a snapshot of translator counters
type Stats struct {
	UpstreamCalls    int64 `json:"upstream_calls"`
	UpstreamFailures int64 `json:"upstream_failures"`
	Retries          int64 `json:"retries"`
	CacheHits        int64 `json:"cache_hits"`
	SlotsInUse       int64 `json:"slots_in_use"`
	SlotCapacity     int   `json:"slot_capacity"`
}

// Translator is the concurrency-bounded upstream dispatcher
type Translator struct {
	upstream Upstream
	cache    Cache
	sem      *semaphore.Weighted
	config   Config
	logger   observability.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	upstreamCalls    atomic.Int64
	upstreamFailures atomic.Int64
	retries          atomic.Int64
	cacheHits        atomic.Int64
	slotsInUse       atomic.Int64
}

// New creates a Translator. cache may be nil to disable caching entirely.
func New(upstream Upstream, cache Cache, config Config) *Translator {
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.RetryBase <= 0 {
		config.RetryBase = DefaultRetryBase
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultMaxBatchSize
	}
	if config.MaxChunkChars <= 0 {
		config.MaxChunkChars = DefaultMaxChunkChars
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}

	return &Translator{
		upstream: upstream,
		cache:    cache,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrentRequests)),
		config:   config,
		logger:   config.Logger,
		metrics:  config.Metrics,
		tracer:   observability.TracerOrNoop(config.TracerProvider, "translation-gateway/translator"),
	}
}

// TranslateSingle translates one text. It never returns a Go error: every
// failure is reported inside the Result. The hint is attached to this
// caller's result only and is never cached.
func (t *Translator) TranslateSingle(ctx context.Context, text, from, to string, useCache bool, hint string) Result {
	ctx, span := t.tracer.Start(ctx, "translator.TranslateSingle", trace.WithAttributes(
		observability.TextLengthAttributeKey.Int(len(text)),
		observability.SourceLangAttributeKey.String(from),
		observability.TargetLangAttributeKey.String(to),
		attribute.Bool("translation.use_cache", useCache),
	))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return Failure(text, from, to, NewError(KindValidation, "text must not be blank"))
	}

	key := Key(text, from, to)
	if useCache {
		if cached, ok := t.lookup(ctx, key); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			result := cached.Result(text, hint)
			result.Cached = true
			return result
		}
	}

	payload, err := t.dispatch(ctx, text, from, to)
	if err != nil {
		observability.MarkError(span, err)
		return Failure(text, from, to, err)
	}

	if useCache {
		t.store(ctx, key, payload)
	}

	return payload.Result(text, hint)
}

// Stats returns a snapshot of the counters
func (t *Translator) Stats() Stats {
	return Stats{
		UpstreamCalls:    t.upstreamCalls.Load(),
		UpstreamFailures: t.upstreamFailures.Load(),
		Retries:          t.retries.Load(),
		CacheHits:        t.cacheHits.Load(),
		SlotsInUse:       t.slotsInUse.Load(),
		SlotCapacity:     t.config.MaxConcurrentRequests,
	}
}

func (t *Translator) lookup(ctx context.Context, key string) (CachedTranslation, bool) {
	if t.cache == nil {
		return CachedTranslation{}, false
	}
	raw, ok := t.cache.Get(ctx, key)
	if !ok {
		return CachedTranslation{}, false
	}
	var payload CachedTranslation
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.logger.Warn("Discarding undecodable cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return CachedTranslation{}, false
	}
	t.cacheHits.Add(1)
	return payload, true
}

func (t *Translator) store(ctx context.Context, key string, payload CachedTranslation) {
	if t.cache == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	t.cache.Set(ctx, key, raw, t.config.CacheTTL)
}

// dispatch holds one semaphore slot across all attempts for this call
func (t *Translator) dispatch(ctx context.Context, text, from, to string) (CachedTranslation, *Error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return CachedTranslation{}, NewError(KindCanceled, "gave up waiting for an upstream slot: "+err.Error())
	}
	t.slotsInUse.Add(1)
	t.metrics.AddSemaphoreInUse(1)
	defer func() {
		t.slotsInUse.Add(-1)
		t.metrics.AddSemaphoreInUse(-1)
		t.sem.Release(1)
	}()

	var (
		resp    *provider.Response
		attempt int
	)

	operation := func() error {
		attempt++
		if attempt > 1 {
			t.retries.Add(1)
			t.metrics.RecordRetry()
		}

		r, err := t.attempt(ctx, text, from, to, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(Classify(ctx.Err()))
			}
			if !err.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		t.logger.Warn("Upstream translation failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
			"wait":    wait.String(),
		})
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(t.newBackOff(), uint64(t.config.MaxAttempts-1)),
		ctx,
	)

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		classified := Classify(err)
		t.logger.Error("Upstream translation failed", map[string]interface{}{
			"attempts": attempt,
			"kind":     string(classified.Kind),
			"error":    classified.Message,
		})
		return CachedTranslation{}, classified
	}

	text = strings.TrimSpace(text)
	payload := CachedTranslation{
		Src:  text,
		Dst:  resp.Text(),
		From: resp.From,
		To:   resp.To,
	}
	if payload.From == "" {
		payload.From = from
	}
	if payload.To == "" {
		payload.To = to
	}
	return payload, nil
}

// attempt performs one upstream call under its own timeout
func (t *Translator) attempt(ctx context.Context, text, from, to string, n int) (*provider.Response, *Error) {
	ctx, span := t.tracer.Start(ctx, "translator.upstream_attempt", trace.WithAttributes(
		observability.AttemptAttributeKey.Int(n),
	))

	attemptCtx, cancel := context.WithTimeout(ctx, t.config.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	resp, err := t.upstream.Translate(attemptCtx, text, from, to)
	t.upstreamCalls.Add(1)

	if err != nil {
		t.upstreamFailures.Add(1)
		classified := Classify(err)
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			classified = NewError(KindUpstreamTimeout, "upstream request timed out after "+t.config.UpstreamTimeout.String())
		}
		t.metrics.RecordUpstreamCall(string(classified.Kind), time.Since(start))
		observability.EndSpan(span, classified)
		return nil, classified
	}

	t.metrics.RecordUpstreamCall("success", time.Since(start))
	observability.EndSpan(span, nil)
	return resp, nil
}

// newBackOff yields waits of base, 2*base, 4*base, ...
func (t *Translator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.config.RetryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = t.config.RetryBase << uint(t.config.MaxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
