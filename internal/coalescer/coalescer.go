// Package coalescer merges concurrent identical translation requests that
// arrive within a short window into a single upstream call.
package coalescer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/translation-gateway/internal/metrics"
	"github.com/developer-mesh/translation-gateway/internal/translator"
	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

const (
	DefaultMergeWindow        = 100 * time.Millisecond
	DefaultResultCacheTTL     = 5 * time.Second
	DefaultResultCacheSize    = 10000
	DefaultSweepInterval      = 10 * time.Second
	DefaultGroupTimeoutFactor = 10
)

// Translator is the single-translation operation the coalescer fans in to
type Translator interface {
	TranslateSingle(ctx context.Context, text, from, to string, useCache bool, hint string) translator.Result
}

// Config configures a Coalescer
type Config struct {
	MergeWindow        time.Duration
	ResultCacheTTL     time.Duration
	ResultCacheSize    int
	SweepInterval      time.Duration
	GroupTimeoutFactor int

	Logger  observability.Logger
	Metrics *metrics.Metrics
}

// Stats is a snapshot of coalescer counters
type Stats struct {
	TotalRequests      int64         `json:"total_requests"`
	MergedRequests     int64         `json:"merged_requests"`
	CacheHits          int64         `json:"cache_hits"`
	UpstreamCalls      int64         `json:"api_calls"`
	AvgProcessingTime  time.Duration `json:"avg_processing_time"`
	PendingGroups      int           `json:"pending_groups"`
	ProcessingRequests int           `json:"processing_requests"`
	CachedResults      int           `json:"cached_results"`
	MergeEfficiency    float64       `json:"merge_efficiency"`
}

// ToMap renders the stats for the performance endpoint
func (s Stats) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"total_requests":         s.TotalRequests,
		"merged_requests":        s.MergedRequests,
		"cache_hits":             s.CacheHits,
		"api_calls":              s.UpstreamCalls,
		"avg_processing_time_ms": float64(s.AvgProcessingTime.Microseconds()) / 1000,
		"pending_requests":       s.PendingGroups,
		"processing_requests":    s.ProcessingRequests,
		"cache_size":             s.CachedResults,
		"merge_efficiency":       fmt.Sprintf("%.2f%%", s.MergeEfficiency),
	}
}

type waiter struct {
	text string
	hint string
	ch   chan translator.Result
}

// group is a pending request group: everyone waiting on one key
type group struct {
	key       string
	text      string
	from      string
	to        string
	createdAt time.Time
	waiters   []*waiter
	timer     *time.Timer
	once      sync.Once
}

// Coalescer deduplicates in-flight requests by translation key
type Coalescer struct {
	translator Translator
	config     Config
	logger     observability.Logger
	metrics    *metrics.Metrics
	results    *expirable.LRU[string, translator.CachedTranslation]
	flight     singleflight.Group

	mu         sync.Mutex
	pending    map[string]*group
	processing int
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	groups sync.WaitGroup
	stop   chan struct{}
	done   chan struct{}
	now    func() time.Time

	totalRequests  atomic.Int64
	mergedRequests atomic.Int64
	cacheHits      atomic.Int64
	upstreamCalls  atomic.Int64
	processingTime atomic.Int64
}

// New creates a Coalescer and starts its sweep loop. Call Close to stop it.
func New(t Translator, config Config) *Coalescer {
	if config.MergeWindow <= 0 {
		config.MergeWindow = DefaultMergeWindow
	}
	if config.ResultCacheTTL <= 0 {
		config.ResultCacheTTL = DefaultResultCacheTTL
	}
	if config.ResultCacheSize <= 0 {
		config.ResultCacheSize = DefaultResultCacheSize
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.GroupTimeoutFactor <= 0 {
		config.GroupTimeoutFactor = DefaultGroupTimeoutFactor
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coalescer{
		translator: t,
		config:     config,
		logger:     config.Logger,
		metrics:    config.Metrics,
		results:    expirable.NewLRU[string, translator.CachedTranslation](config.ResultCacheSize, nil, config.ResultCacheTTL),
		pending:    make(map[string]*group),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}

	go c.sweepLoop()
	return c
}

// Submit translates text, sharing one upstream call with every identical
// request that arrives within the merge window. The hint is echoed back on
// this caller's result only.
func (c *Coalescer) Submit(ctx context.Context, text, from, to, hint string) translator.Result {
	c.totalRequests.Add(1)

	if strings.TrimSpace(text) == "" {
		return translator.Failure(text, from, to, translator.NewError(translator.KindValidation, "text must not be blank"))
	}

	key := translator.Key(text, from, to)
	w := &waiter{text: text, hint: hint, ch: make(chan translator.Result, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return translator.Failure(text, from, to, translator.NewError(translator.KindGroupTimeout, "coalescer closed"))
	}

	if payload, ok := c.results.Get(key); ok {
		c.mu.Unlock()
		c.cacheHits.Add(1)
		result := payload.Result(text, hint)
		result.Cached = true
		return result
	}

	if g, ok := c.pending[key]; ok {
		g.waiters = append(g.waiters, w)
		c.mu.Unlock()
		c.mergedRequests.Add(1)
		c.metrics.RecordCoalesced()
	} else {
		g := &group{
			key:       key,
			text:      text,
			from:      from,
			to:        to,
			createdAt: c.now(),
			waiters:   []*waiter{w},
		}
		c.pending[key] = g
		c.groups.Add(1)
		g.timer = time.AfterFunc(c.config.MergeWindow, func() { c.process(g) })
		c.metrics.SetPendingGroups(len(c.pending))
		c.mu.Unlock()
	}

	select {
	case result := <-w.ch:
		return result
	case <-ctx.Done():
		return translator.Failure(text, from, to, translator.NewError(translator.KindCanceled, "stopped waiting: "+ctx.Err().Error()))
	}
}

// Stats returns a snapshot of the counters
func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	pending := len(c.pending)
	processing := c.processing
	c.mu.Unlock()

	s := Stats{
		TotalRequests:      c.totalRequests.Load(),
		MergedRequests:     c.mergedRequests.Load(),
		CacheHits:          c.cacheHits.Load(),
		UpstreamCalls:      c.upstreamCalls.Load(),
		PendingGroups:      pending,
		ProcessingRequests: processing,
		CachedResults:      c.results.Len(),
	}
	if s.UpstreamCalls > 0 {
		s.AvgProcessingTime = time.Duration(c.processingTime.Load() / s.UpstreamCalls)
	}
	if s.TotalRequests > 0 {
		s.MergeEfficiency = float64(s.MergedRequests) / float64(s.TotalRequests) * 100
	}
	return s
}

// Close stops the sweep loop, rejects every pending waiter and waits for
// in-flight groups to finish. Later submissions fail fast.
func (c *Coalescer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	abandoned := make([]*group, 0, len(c.pending))
	for key, g := range c.pending {
		delete(c.pending, key)
		if g.timer.Stop() {
			c.groups.Done()
		}
		abandoned = append(abandoned, g)
	}
	c.metrics.SetPendingGroups(0)
	c.mu.Unlock()

	for _, g := range abandoned {
		c.reject(g, "coalescer closed")
	}

	close(c.stop)
	<-c.done

	c.cancel()
	c.groups.Wait()

	c.logger.Info("Coalescer closed", map[string]interface{}{
		"abandoned_groups": len(abandoned),
	})
	return nil
}

func (c *Coalescer) process(g *group) {
	defer c.groups.Done()

	c.mu.Lock()
	if c.pending[g.key] != g {
		// swept or closed before the window elapsed
		c.mu.Unlock()
		return
	}
	delete(c.pending, g.key)
	c.metrics.SetPendingGroups(len(c.pending))
	c.mu.Unlock()

	// Groups formed while an identical key is already upstream join that
	// call instead of issuing their own.
	leader := false
	v, _, _ := c.flight.Do(g.key, func() (interface{}, error) {
		leader = true
		if payload, ok := c.results.Get(g.key); ok {
			result := payload.Result(g.text, "")
			result.Cached = true
			return result, nil
		}

		c.mu.Lock()
		c.processing++
		c.mu.Unlock()

		start := time.Now()
		result := c.translate(g)
		c.upstreamCalls.Add(1)
		c.processingTime.Add(int64(time.Since(start)))

		if result.Success {
			c.results.Add(g.key, result.Payload())
		}

		c.mu.Lock()
		c.processing--
		c.mu.Unlock()
		return result, nil
	})

	if !leader {
		c.mergedRequests.Add(int64(len(g.waiters)))
		for range g.waiters {
			c.metrics.RecordCoalesced()
		}
	}

	c.resolve(g, v.(translator.Result))
}

func (c *Coalescer) translate(g *group) (result translator.Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Translation panicked", map[string]interface{}{
				"key":   g.key,
				"panic": fmt.Sprint(r),
			})
			result = translator.Failure(g.text, g.from, g.to, translator.NewError(translator.KindUpstreamHTTP, fmt.Sprintf("translation panicked: %v", r)))
		}
	}()
	return c.translator.TranslateSingle(c.ctx, g.text, g.from, g.to, true, "")
}

// resolve delivers result to every waiter of g, at most once per group
func (c *Coalescer) resolve(g *group, result translator.Result) {
	g.once.Do(func() {
		for _, w := range g.waiters {
			r := result
			r.SourceText = w.text
			if r.Success {
				r = r.WithHint(w.hint)
			}
			w.ch <- r
		}
	})
}

func (c *Coalescer) reject(g *group, message string) {
	c.resolve(g, translator.Failure(g.text, g.from, g.to, translator.NewError(translator.KindGroupTimeout, message)))
}

func (c *Coalescer) sweepLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep rejects groups that have been pending longer than the group timeout.
// Expired result cache entries are dropped by the LRU itself.
func (c *Coalescer) sweep() {
	limit := c.config.MergeWindow * time.Duration(c.config.GroupTimeoutFactor)
	now := c.now()

	c.mu.Lock()
	var stale []*group
	for key, g := range c.pending {
		if now.Sub(g.createdAt) > limit {
			delete(c.pending, key)
			if g.timer.Stop() {
				c.groups.Done()
			}
			stale = append(stale, g)
		}
	}
	c.metrics.SetPendingGroups(len(c.pending))
	c.mu.Unlock()

	for _, g := range stale {
		c.reject(g, "request group timed out")
	}

	if len(stale) > 0 {
		c.logger.Warn("Rejected stale request groups", map[string]interface{}{
			"groups": len(stale),
		})
	}
}
