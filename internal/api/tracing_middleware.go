package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

// TracingMiddleware starts a server span per request, continuing any trace
// context found in the request headers
func TracingMiddleware(tp trace.TracerProvider) gin.HandlerFunc {
	tracer := observability.TracerOrNoop(tp, "translation-gateway/api")
	propagator := propagation.TraceContext{}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", c.Request.Method, path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", path),
				attribute.String("http.client_ip", c.ClientIP()),
			),
		)
		defer span.End()

		if id := c.GetString(requestIDCtxKey); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
