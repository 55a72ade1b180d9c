package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracedStore_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	redisStore, _ := newMiniredisStore(t)
	store := NewTracedStore(redisStore, tp)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = store.BatchGet(ctx, []string{"k", "x"})
	require.NoError(t, err)
	require.NoError(t, store.BatchSet(ctx, map[string][]byte{"y": []byte("1")}, time.Minute))
	require.NoError(t, store.Delete(ctx, "y"))

	spans := recorder.Ended()
	require.Len(t, spans, 5)
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
		assert.Equal(t, codes.Ok, s.Status().Code)
	}
	assert.Equal(t, []string{
		"cache.durable.set",
		"cache.durable.get",
		"cache.durable.batch_get",
		"cache.durable.batch_set",
		"cache.durable.delete",
	}, names)
}

func TestTracedStore_RecordsErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	store := NewTracedStore(&failingStore{}, tp)
	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestNewTracedStore_NilProvider(t *testing.T) {
	store := &failingStore{}
	assert.Same(t, store, NewTracedStore(store, nil))
}
