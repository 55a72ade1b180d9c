package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

// TracedStore wraps a DurableStore with distributed tracing
type TracedStore struct {
	store  DurableStore
	tracer trace.Tracer
}

// NewTracedStore wraps store. A nil provider returns store unwrapped.
func NewTracedStore(store DurableStore, tp trace.TracerProvider) DurableStore {
	if tp == nil || store == nil {
		return store
	}
	return &TracedStore{
		store:  store,
		tracer: tp.Tracer("translation-gateway/cache"),
	}
}

func (ts *TracedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, observability.CacheOpAttributeKey.String(op))
	return ts.tracer.Start(ctx, "cache.durable."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// Get retrieves a value with tracing
func (ts *TracedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := ts.start(ctx, "get", observability.CacheKeyAttributeKey.String(key))
	data, ok, err := ts.store.Get(ctx, key)
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	observability.EndSpan(span, err)
	return data, ok, err
}

// Set stores a value with tracing
func (ts *TracedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := ts.start(ctx, "set",
		observability.CacheKeyAttributeKey.String(key),
		attribute.Int("cache.value_size", len(value)),
	)
	err := ts.store.Set(ctx, key, value, ttl)
	observability.EndSpan(span, err)
	return err
}

// BatchGet retrieves several values with tracing
func (ts *TracedStore) BatchGet(ctx context.Context, keys []string) (map[string]Entry, error) {
	ctx, span := ts.start(ctx, "batch_get", attribute.Int("cache.keys", len(keys)))
	values, err := ts.store.BatchGet(ctx, keys)
	span.SetAttributes(attribute.Int("cache.hits", len(values)))
	observability.EndSpan(span, err)
	return values, err
}

// BatchSet stores several values with tracing
func (ts *TracedStore) BatchSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	ctx, span := ts.start(ctx, "batch_set", attribute.Int("cache.keys", len(entries)))
	err := ts.store.BatchSet(ctx, entries, ttl)
	observability.EndSpan(span, err)
	return err
}

// Delete removes keys with tracing
func (ts *TracedStore) Delete(ctx context.Context, keys ...string) error {
	ctx, span := ts.start(ctx, "delete", attribute.Int("cache.keys", len(keys)))
	err := ts.store.Delete(ctx, keys...)
	observability.EndSpan(span, err)
	return err
}

// Close closes the wrapped store
func (ts *TracedStore) Close() error {
	return ts.store.Close()
}
