package coalescer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/developer-mesh/translation-gateway/internal/provider"
	"github.com/developer-mesh/translation-gateway/internal/translator"
)

type fakeTranslator struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
	respond  func(text, from, to string) translator.Result
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{
		respond: func(text, from, to string) translator.Result {
			return translator.CachedTranslation{Src: text, Dst: "T(" + text + ")", From: from, To: to}.Result(text, "")
		},
	}
}

func (f *fakeTranslator) TranslateSingle(ctx context.Context, text, from, to string, useCache bool, hint string) translator.Result {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return translator.Failure(text, from, to, translator.Classify(ctx.Err()))
		}
	}
	return f.respond(text, from, to)
}

func newTestCoalescer(t *testing.T, tr Translator, window time.Duration) *Coalescer {
	t.Helper()
	c := New(tr, Config{MergeWindow: window, SweepInterval: time.Hour})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func submitConcurrently(c *Coalescer, n int, text string) []translator.Result {
	results := make([]translator.Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Submit(context.Background(), text, "auto", "en", fmt.Sprintf("%dpx", 10+i))
		}(i)
	}
	wg.Wait()
	return results
}

func TestSubmit_CoalescesConcurrentRequests(t *testing.T) {
	tr := newFakeTranslator()
	c := newTestCoalescer(t, tr, 50*time.Millisecond)

	results := submitConcurrently(c, 5, "你好")

	assert.Equal(t, int64(1), tr.calls.Load())
	for i, r := range results {
		require.True(t, r.Success)
		assert.Equal(t, "T(你好)", r.TranslatedText)
		assert.Equal(t, fmt.Sprintf("%dpx", 10+i), r.Hint, "each waiter keeps its own hint")
	}

	stats := c.Stats()
	assert.Equal(t, int64(5), stats.TotalRequests)
	assert.Equal(t, int64(4), stats.MergedRequests)
	assert.Equal(t, int64(1), stats.UpstreamCalls)
	assert.InDelta(t, 80.0, stats.MergeEfficiency, 0.001)
	assert.Equal(t, 0, stats.PendingGroups)
	assert.Equal(t, 1, stats.CachedResults)
	assert.Equal(t, "80.00%", stats.ToMap()["merge_efficiency"])
}

func TestSubmit_JoinsInFlightTranslation(t *testing.T) {
	tr := newFakeTranslator()
	tr.delay = 300 * time.Millisecond
	c := newTestCoalescer(t, tr, 50*time.Millisecond)

	var first translator.Result
	done := make(chan struct{})
	go func() {
		defer close(done)
		first = c.Submit(context.Background(), "你好", "auto", "en", "12px")
	}()

	// past the first merge window, while the upstream call is still running
	time.Sleep(120 * time.Millisecond)
	second := c.Submit(context.Background(), "你好", "auto", "en", "18px")
	<-done

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, "12px", first.Hint)
	assert.Equal(t, "18px", second.Hint)
	assert.Equal(t, "T(你好)", second.TranslatedText)

	assert.Equal(t, int64(1), tr.calls.Load())
	assert.Equal(t, int64(1), tr.peak.Load())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.UpstreamCalls)
	assert.Equal(t, int64(1), stats.MergedRequests)
	assert.Equal(t, 0, stats.ProcessingRequests)
}

func TestSubmit_ResultCache(t *testing.T) {
	tr := newFakeTranslator()
	c := newTestCoalescer(t, tr, 10*time.Millisecond)

	first := c.Submit(context.Background(), "世界", "zh", "en", "12px")
	require.True(t, first.Success)
	assert.False(t, first.Cached)

	second := c.Submit(context.Background(), " 世界 ", "zh", "en", "18px")
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, "18px", second.Hint)
	assert.Equal(t, " 世界 ", second.SourceText)

	assert.Equal(t, int64(1), tr.calls.Load())
	assert.Equal(t, int64(1), c.Stats().CacheHits)
}

func TestSubmit_DistinctKeysDoNotMerge(t *testing.T) {
	tr := newFakeTranslator()
	c := newTestCoalescer(t, tr, 30*time.Millisecond)

	var wg sync.WaitGroup
	for _, to := range []string{"en", "th", "vi"} {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			r := c.Submit(context.Background(), "你好", "zh", to, "")
			assert.True(t, r.Success)
			assert.Equal(t, to, r.TargetLang)
		}(to)
	}
	wg.Wait()

	assert.Equal(t, int64(3), tr.calls.Load())
	assert.Equal(t, int64(0), c.Stats().MergedRequests)
}

func TestSubmit_FailureFanOut(t *testing.T) {
	tr := newFakeTranslator()
	tr.respond = func(text, from, to string) translator.Result {
		return translator.Failure(text, from, to, &translator.Error{Kind: translator.KindUpstreamHTTP, Status: 503, Message: "unavailable"})
	}
	c := newTestCoalescer(t, tr, 30*time.Millisecond)

	results := submitConcurrently(c, 3, "boom")
	assert.Equal(t, int64(1), tr.calls.Load())
	for _, r := range results {
		assert.False(t, r.Success)
		require.NotNil(t, r.Error)
		assert.Equal(t, translator.KindUpstreamHTTP, r.Error.Kind)
		assert.Equal(t, 503, r.Error.Status)
		assert.Empty(t, r.Hint)
	}

	// failures are not kept in the result cache
	c.Submit(context.Background(), "boom", "auto", "en", "")
	assert.Equal(t, int64(2), tr.calls.Load())
}

func TestSubmit_CallerTimeoutLeavesGroupIntact(t *testing.T) {
	tr := newFakeTranslator()
	c := newTestCoalescer(t, tr, 100*time.Millisecond)

	patient := make(chan translator.Result, 1)
	go func() { patient <- c.Submit(context.Background(), "wait", "en", "zh", "") }()
	require.Eventually(t, func() bool { return c.Stats().PendingGroups == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	impatient := c.Submit(ctx, "wait", "en", "zh", "")
	require.NotNil(t, impatient.Error)
	assert.Equal(t, translator.KindCanceled, impatient.Error.Kind)

	r := <-patient
	assert.True(t, r.Success)
	assert.Equal(t, int64(1), tr.calls.Load())
}

func TestSubmit_PanicBecomesFailure(t *testing.T) {
	tr := newFakeTranslator()
	tr.respond = func(string, string, string) translator.Result { panic("provider exploded") }
	c := newTestCoalescer(t, tr, 10*time.Millisecond)

	results := submitConcurrently(c, 2, "x")
	for _, r := range results {
		assert.False(t, r.Success)
		require.NotNil(t, r.Error)
		assert.Contains(t, r.Error.Message, "provider exploded")
	}
}

func TestSubmit_BlankText(t *testing.T) {
	tr := newFakeTranslator()
	c := newTestCoalescer(t, tr, 10*time.Millisecond)

	r := c.Submit(context.Background(), "  ", "en", "zh", "")
	require.NotNil(t, r.Error)
	assert.Equal(t, translator.KindValidation, r.Error.Kind)
	assert.Equal(t, int64(0), tr.calls.Load())
}

func TestSweep_RejectsStaleGroups(t *testing.T) {
	tr := newFakeTranslator()
	c := newTestCoalescer(t, tr, time.Hour)

	var offset atomic.Int64
	base := time.Now()
	c.mu.Lock()
	c.now = func() time.Time { return base.Add(time.Duration(offset.Load())) }
	c.mu.Unlock()

	done := make(chan translator.Result, 1)
	go func() { done <- c.Submit(context.Background(), "stuck", "en", "zh", "") }()
	require.Eventually(t, func() bool { return c.Stats().PendingGroups == 1 }, time.Second, time.Millisecond)

	c.sweep()
	assert.Equal(t, 1, c.Stats().PendingGroups, "young groups survive the sweep")

	offset.Store(int64(11 * time.Hour))
	c.sweep()

	r := <-done
	require.NotNil(t, r.Error)
	assert.Equal(t, translator.KindGroupTimeout, r.Error.Kind)
	assert.Equal(t, 0, c.Stats().PendingGroups)
	assert.Equal(t, int64(0), tr.calls.Load())
}

func TestClose_RejectsPendingWaiters(t *testing.T) {
	tr := newFakeTranslator()
	c := New(tr, Config{MergeWindow: time.Hour, SweepInterval: 5 * time.Millisecond})
	// the expirable LRU runs a cleanup goroutine that cannot be stopped
	ignore := goleak.IgnoreCurrent()

	done := make(chan translator.Result, 1)
	go func() { done <- c.Submit(context.Background(), "pending", "en", "zh", "") }()
	require.Eventually(t, func() bool { return c.Stats().PendingGroups == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	r := <-done
	require.NotNil(t, r.Error)
	assert.Equal(t, translator.KindGroupTimeout, r.Error.Kind)

	late := c.Submit(context.Background(), "late", "en", "zh", "")
	require.NotNil(t, late.Error)
	assert.Contains(t, late.Error.Message, "closed")

	select {
	case <-c.done:
	default:
		t.Fatal("sweep loop still running after Close")
	}
	goleak.VerifyNone(t, ignore)
}

func TestClose_WaitsForInFlightGroups(t *testing.T) {
	tr := newFakeTranslator()
	tr.delay = time.Second
	c := New(tr, Config{MergeWindow: time.Millisecond, SweepInterval: time.Hour})

	done := make(chan translator.Result, 1)
	go func() { done <- c.Submit(context.Background(), "slow", "en", "zh", "") }()
	require.Eventually(t, func() bool { return c.Stats().ProcessingRequests == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond, "close cancels in-flight translations")

	r := <-done
	assert.False(t, r.Success)
}

// upstreamCounter is a minimal provider stand-in for wiring a real Translator
type upstreamCounter struct{ calls atomic.Int64 }

func (u *upstreamCounter) Translate(_ context.Context, text, from, to string) (*provider.Response, error) {
	u.calls.Add(1)
	return &provider.Response{From: from, To: to, TransResult: []provider.Segment{{Src: text, Dst: "hello"}}}, nil
}

func TestSubmit_WithTranslator(t *testing.T) {
	upstream := &upstreamCounter{}
	tr := translator.New(upstream, nil, translator.Config{RetryBase: time.Millisecond})
	c := newTestCoalescer(t, tr, 20*time.Millisecond)

	results := submitConcurrently(c, 4, "你好")
	assert.Equal(t, int64(1), upstream.calls.Load())
	for i, r := range results {
		assert.Equal(t, "hello", r.TranslatedText)
		assert.Equal(t, fmt.Sprintf("%dpx", 10+i), r.Hint)
	}
}
