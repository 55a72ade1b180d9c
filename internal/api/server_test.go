package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/translation-gateway/internal/cache"
	"github.com/developer-mesh/translation-gateway/internal/coalescer"
	"github.com/developer-mesh/translation-gateway/internal/languages"
	"github.com/developer-mesh/translation-gateway/internal/metrics"
	"github.com/developer-mesh/translation-gateway/internal/provider"
	"github.com/developer-mesh/translation-gateway/internal/translator"
)

type dictUpstream struct {
	dict  map[string]string
	calls atomic.Int64
	err   error
}

func (u *dictUpstream) Translate(_ context.Context, text, from, to string) (*provider.Response, error) {
	u.calls.Add(1)
	if u.err != nil {
		return nil, u.err
	}
	dst, ok := u.dict[text]
	if !ok {
		return nil, &provider.APIError{Code: "54001", Message: "invalid sign"}
	}
	return &provider.Response{From: from, To: to, TransResult: []provider.Segment{{Src: text, Dst: dst}}}, nil
}

type testEnv struct {
	server   *Server
	upstream *dictUpstream
	cache    *cache.TieredCache
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, upstream *dictUpstream) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	tc := cache.NewTieredCache(cache.TieredCacheConfig{LocalMaxSize: 100})
	tr := translator.New(upstream, tc, translator.Config{
		MaxAttempts: 1,
		RetryBase:   time.Millisecond,
		Metrics:     m,
	})
	co := coalescer.New(tr, coalescer.Config{MergeWindow: 5 * time.Millisecond, Metrics: m})
	t.Cleanup(func() {
		_ = co.Close()
		_ = tc.Close()
	})

	server := NewServer(Dependencies{
		Translator: tr,
		Coalescer:  co,
		Cache:      tc,
		Languages:  languages.Default(),
		Metrics:    m,
		Gatherer:   registry,
	}, Config{MaxBatchItems: 3, MaxTextLength: 20})

	return &testEnv{server: server, upstream: upstream, cache: tc, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestTranslateHandler(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{dict: map[string]string{"你好": "Hello"}})

	w := env.do(t, http.MethodPost, "/api/translate", gin.H{"text": "你好", "to_lang": "en", "font_size": "14px"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Hello", body["translated_text"])
	assert.Equal(t, "auto", body["from"])
	assert.Equal(t, "en", body["to"])
	assert.Equal(t, "14px", body["font_size"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestTranslateHandler_Validation(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{})

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing text", body: gin.H{"to_lang": "en"}},
		{name: "blank text", body: gin.H{"text": "   "}},
		{name: "too long", body: gin.H{"text": strings.Repeat("字", 21)}},
		{name: "malformed json", body: "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/translate", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, decode(t, w)["success"])
		})
	}
	assert.Equal(t, int64(0), env.upstream.calls.Load())
}

func TestTranslateHandler_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{err: &provider.HTTPError{StatusCode: 500}})

	w := env.do(t, http.MethodPost, "/api/translate", gin.H{"text": "你好"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(translator.KindUpstreamHTTP), errBody["kind"])
}

func TestDirectHandler(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{dict: map[string]string{"猫": "cat"}})

	w := env.do(t, http.MethodPost, "/api/translate/direct", gin.H{"text": "猫", "to_lang": "en"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cat", decode(t, w)["translated_text"])

	w = env.do(t, http.MethodPost, "/api/translate/direct", gin.H{"text": "猫", "to_lang": "en"})
	assert.Equal(t, true, decode(t, w)["cached"])

	w = env.do(t, http.MethodPost, "/api/translate/direct", gin.H{"text": "猫", "to_lang": "en", "use_cache": false})
	assert.Nil(t, decode(t, w)["cached"])
	assert.Equal(t, int64(2), env.upstream.calls.Load())
}

func TestTargetHandler(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{dict: map[string]string{"你好": "สวัสดี"}})

	w := env.do(t, http.MethodPost, "/api/translate/th", gin.H{"text": "你好"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "สวัสดี", body["translated_text"])
	assert.Equal(t, "zh", body["from"])

	w = env.do(t, http.MethodPost, "/api/translate/xx", gin.H{"text": "你好"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/translate/auto", gin.H{"text": "你好"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "auto is not a target")
}

func TestBatchHandler(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{dict: map[string]string{"你好": "Hello", "世界": "World"}})

	w := env.do(t, http.MethodPost, "/api/batch/translate", `{
		"items": ["你好", {"text": "你好", "id": "greeting"}, {"text": "世界", "id": 7}],
		"to_lang": "en",
		"font_size": "12px"
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp translator.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 3, resp.Success)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "0", resp.Results[0].ID)
	assert.Equal(t, "greeting", resp.Results[1].ID)
	assert.Equal(t, "7", resp.Results[2].ID)
	assert.Equal(t, "World", resp.Results[2].TranslatedText)
	assert.Equal(t, "12px", resp.Results[1].Hint)
	assert.Equal(t, int64(2), env.upstream.calls.Load())
}

func TestBatchHandler_Limits(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{})

	w := env.do(t, http.MethodPost, "/api/batch/translate", gin.H{"items": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/batch/translate", gin.H{"items": []string{"a", "b", "c", "d"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "too many items")

	w = env.do(t, http.MethodPost, "/api/batch/translate", `{"items": [true]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTextsHandler(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{dict: map[string]string{"一": "one", "二": "two"}})

	w := env.do(t, http.MethodPost, "/api/translate/texts", gin.H{"texts": []string{"一", "二", "一", "三"}, "to_lang": "en"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp TextsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, map[string]string{"一": "one", "二": "two"}, resp.Translations)
	assert.Contains(t, resp.Error, "1 of 3")
}

func TestLanguagesHandler(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{})

	w := env.do(t, http.MethodGet, "/api/languages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	langs, ok := body["languages"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(len(langs)), body["total"])
	for _, l := range langs {
		assert.Equal(t, true, l.(map[string]interface{})["enabled"])
	}
}

func TestStatsHandlers(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{dict: map[string]string{"你好": "Hello"}})
	env.do(t, http.MethodPost, "/api/translate", gin.H{"text": "你好", "to_lang": "en"})

	w := env.do(t, http.MethodGet, "/api/performance_stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "request_merger")
	assert.Contains(t, body, "upstream")
	assert.Contains(t, body, "cache")

	merger := body["request_merger"].(map[string]interface{})
	assert.Equal(t, float64(1), merger["total_requests"])

	w = env.do(t, http.MethodGet, "/api/cache_info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, false, info["remote_available"])
	assert.Contains(t, info, "hit_rate")
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{})

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "unavailable", body["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &dictUpstream{dict: map[string]string{"你好": "Hello"}})
	env.do(t, http.MethodPost, "/api/translate", gin.H{"text": "你好"})

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "translator_requests_total")
	assert.Contains(t, w.Body.String(), "translator_http_request_duration_seconds")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind translator.ErrorKind
		want int
	}{
		{translator.KindValidation, http.StatusBadRequest},
		{translator.KindUpstreamTimeout, http.StatusGatewayTimeout},
		{translator.KindUpstreamHTTP, http.StatusBadGateway},
		{translator.KindUpstreamProvider, http.StatusBadGateway},
		{translator.KindGroupTimeout, http.StatusServiceUnavailable},
		{translator.KindCanceled, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(translator.NewError(tt.kind, "x")), string(tt.kind))
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(nil))
}
