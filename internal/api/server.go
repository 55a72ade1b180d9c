// Package api exposes the translation gateway over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/developer-mesh/translation-gateway/internal/cache"
	"github.com/developer-mesh/translation-gateway/internal/coalescer"
	"github.com/developer-mesh/translation-gateway/internal/languages"
	"github.com/developer-mesh/translation-gateway/internal/metrics"
	"github.com/developer-mesh/translation-gateway/internal/translator"
	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

// Translator is the direct translation surface used by the handlers
type Translator interface {
	TranslateSingle(ctx context.Context, text, from, to string, useCache bool, hint string) translator.Result
	TranslateBatch(ctx context.Context, items []translator.BatchItem, from, to string, useCache bool, hint string, maxConcurrent int) translator.BatchResponse
	TranslateTexts(ctx context.Context, texts []string, from, to string) (map[string]string, error)
	Stats() translator.Stats
}

// Coalescer is the merged translation surface used by the handlers
type Coalescer interface {
	Submit(ctx context.Context, text, from, to, hint string) translator.Result
	Stats() coalescer.Stats
}

// CacheInspector reports multi-tier cache state
type CacheInspector interface {
	GetStats() cache.Stats
}

// Dependencies are the services the server routes requests to
type Dependencies struct {
	Translator     Translator
	Coalescer      Coalescer
	Cache          CacheInspector
	Languages      *languages.Catalogue
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	TracerProvider trace.TracerProvider
	Logger         observability.Logger
}

// Server represents the API server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	deps    Dependencies
	config  Config
	logger  observability.Logger
	started time.Time
}

// NewServer creates a new API server
func NewServer(deps Dependencies, cfg Config) *Server {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.MaxBatchItems <= 0 {
		cfg.MaxBatchItems = DefaultMaxBatchItems
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNoopLogger()
	}
	if deps.Languages == nil {
		deps.Languages = languages.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(TracingMiddleware(deps.TracerProvider))
	router.Use(RequestLogger(deps.Logger))
	router.Use(MetricsMiddleware(deps.Metrics))
	router.Use(CORSMiddleware())

	s := &Server{
		router: router,
		deps:   deps,
		config: cfg,
		logger: deps.Logger,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes initializes all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api")
	api.POST("/translate", s.translateHandler)
	api.POST("/translate/direct", s.directHandler)
	api.POST("/translate/texts", s.textsHandler)
	api.POST("/translate/:target", s.targetHandler)
	api.POST("/batch/translate", s.batchHandler)
	api.GET("/languages", s.languagesHandler)
	api.GET("/performance_stats", s.performanceHandler)
	api.GET("/cache_info", s.cacheInfoHandler)
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server. It blocks until the server stops and returns
// nil after a graceful Shutdown.
func (s *Server) Start() error {
	s.logger.Info("API server listening", map[string]interface{}{
		"address": s.server.Addr,
	})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) translateHandler(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request: "+err.Error())
		return
	}
	if msg := s.checkText(req.Text); msg != "" {
		s.badRequest(c, msg)
		return
	}

	from := orDefault(req.FromLang, defaultFromLang)
	to := orDefault(req.ToLang, defaultToLang)
	result := s.deps.Coalescer.Submit(c.Request.Context(), req.Text, from, to, req.FontSize)
	s.writeResult(c, "translate", result)
}

func (s *Server) directHandler(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request: "+err.Error())
		return
	}
	if msg := s.checkText(req.Text); msg != "" {
		s.badRequest(c, msg)
		return
	}

	from := orDefault(req.FromLang, defaultFromLang)
	to := orDefault(req.ToLang, defaultToLang)
	result := s.deps.Translator.TranslateSingle(c.Request.Context(), req.Text, from, to, boolOr(req.UseCache, true), req.FontSize)
	s.writeResult(c, "direct", result)
}

func (s *Server) targetHandler(c *gin.Context) {
	target := c.Param("target")
	if !s.deps.Languages.IsTarget(target) {
		s.badRequest(c, "unsupported target language: "+target)
		return
	}

	var req TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request: "+err.Error())
		return
	}
	if msg := s.checkText(req.Text); msg != "" {
		s.badRequest(c, msg)
		return
	}

	result := s.deps.Coalescer.Submit(c.Request.Context(), req.Text, targetSourceLang, target, req.FontSize)
	s.writeResult(c, "target", result)
}

func (s *Server) batchHandler(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		s.badRequest(c, "items must not be empty")
		return
	}
	if len(req.Items) > s.config.MaxBatchItems {
		s.badRequest(c, "too many items: the limit is "+itoa(s.config.MaxBatchItems))
		return
	}

	from := orDefault(req.FromLang, defaultFromLang)
	to := orDefault(req.ToLang, defaultToLang)
	resp := s.deps.Translator.TranslateBatch(c.Request.Context(), req.normalize(), from, to, boolOr(req.UseCache, true), req.FontSize, req.MaxConcurrent)

	status := "success"
	if resp.Failed > 0 {
		status = "partial"
	}
	s.deps.Metrics.RecordRequest("batch", status)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) textsHandler(c *gin.Context) {
	var req TextsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request: "+err.Error())
		return
	}

	from := orDefault(req.FromLang, defaultFromLang)
	to := orDefault(req.ToLang, defaultToLang)
	translations, err := s.deps.Translator.TranslateTexts(c.Request.Context(), req.Texts, from, to)

	resp := TextsResponse{Translations: translations, Total: len(translations)}
	status := "success"
	if err != nil {
		resp.Error = err.Error()
		status = "partial"
	}
	s.deps.Metrics.RecordRequest("texts", status)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) languagesHandler(c *gin.Context) {
	enabled := s.deps.Languages.Enabled()
	c.JSON(http.StatusOK, gin.H{
		"languages": enabled,
		"total":     len(enabled),
	})
}

func (s *Server) performanceHandler(c *gin.Context) {
	body := gin.H{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.deps.Coalescer != nil {
		body["request_merger"] = s.deps.Coalescer.Stats().ToMap()
	}
	if s.deps.Translator != nil {
		body["upstream"] = s.deps.Translator.Stats()
	}
	if s.deps.Cache != nil {
		body["cache"] = s.deps.Cache.GetStats().ToMap()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) cacheInfoHandler(c *gin.Context) {
	if s.deps.Cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, s.deps.Cache.GetStats().ToMap())
}

func (s *Server) healthHandler(c *gin.Context) {
	redis := "disabled"
	if s.deps.Cache != nil {
		if s.deps.Cache.GetStats().RemoteAvailable {
			redis = "connected"
		} else {
			redis = "unavailable"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"redis":     redis,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// checkText returns a rejection message for unusable input
func (s *Server) checkText(text string) string {
	if strings.TrimSpace(text) == "" {
		return "text must not be blank"
	}
	if utf8.RuneCountInString(text) > s.config.MaxTextLength {
		return "text too long: the limit is " + itoa(s.config.MaxTextLength) + " characters"
	}
	return ""
}

func (s *Server) writeResult(c *gin.Context, path string, result translator.Result) {
	code := http.StatusOK
	status := "success"
	if !result.Success {
		code = StatusFor(result.Error)
		status = "failure"
		if result.Error != nil {
			status = string(result.Error.Kind)
		}
	}
	s.deps.Metrics.RecordRequest(path, status)
	c.JSON(code, result)
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Success:   false,
		Error:     msg,
		RequestID: c.GetString(requestIDCtxKey),
	})
}

// StatusFor maps a translation failure onto an HTTP status
func StatusFor(err *translator.Error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	switch err.Kind {
	case translator.KindValidation:
		return http.StatusBadRequest
	case translator.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case translator.KindUpstreamHTTP, translator.KindUpstreamProvider:
		return http.StatusBadGateway
	case translator.KindGroupTimeout, translator.KindCanceled, translator.KindCacheUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
