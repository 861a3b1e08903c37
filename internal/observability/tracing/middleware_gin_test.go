package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/dojopay/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGinMiddlewareRecordsBillingAttributes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var bagCorrelation string
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := correlation.WithID(c.Request.Context(), correlation.OriginHTTP, "corr-1")
		c.Request = c.Request.WithContext(ctx)
		c.Set("auth_role", "staff")
	})
	r.Use(GinMiddleware())
	r.POST("/api/payments/:id/refunds", func(c *gin.Context) {
		bagCorrelation = baggage.FromContext(c.Request.Context()).Member("correlation_id").Value()
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payments/77/refunds", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST /api/payments/:id/refunds", spans[0].Name())
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "77", attrs["dojopay.resource_id"].AsString())
	assert.Equal(t, "corr-1", attrs["dojopay.correlation_id"].AsString())
	assert.Equal(t, "staff", attrs["dojopay.auth_role"].AsString())
	assert.Equal(t, int64(http.StatusAccepted), attrs["http.status_code"].AsInt64())
	assert.Equal(t, "corr-1", bagCorrelation)
}
