package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/dojopay/internal/observability/context"
	"github.com/smallbiznis/dojopay/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Route parameters copied onto the span. Only opaque ids, never amounts or
// payer contact details.
var spanParams = map[string]attribute.Key{
	"id":  "dojopay.resource_id",
	"job": "dojopay.sweep_job",
}

// GinMiddleware opens a server span per request and puts the request and
// correlation ids in baggage for child spans.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("dojopay/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		method := strings.ToUpper(c.Request.Method)
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))

		var members []baggage.Member
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			span.SetAttributes(attribute.String("dojopay.request_id", requestID))
			if m, err := baggage.NewMember("request_id", requestID); err == nil {
				members = append(members, m)
			}
		}
		if cid := correlation.ID(ctx); cid != "" {
			span.SetAttributes(attribute.String("dojopay.correlation_id", cid))
			if m, err := baggage.NewMember("correlation_id", cid); err == nil {
				members = append(members, m)
			}
		}
		if len(members) > 0 {
			if bag, err := baggage.New(members...); err == nil {
				ctx = baggage.ContextWithBaggage(ctx, bag)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + method + " " + route)
		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		for param, key := range spanParams {
			if v := c.Param(param); v != "" {
				attrs = append(attrs, key.String(v))
			}
		}
		if role := c.GetString("auth_role"); role != "" {
			attrs = append(attrs, attribute.String("dojopay.auth_role", role))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if c.Writer.Status() >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}
