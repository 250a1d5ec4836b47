package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestGinMiddlewareTagsDomainRefusal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := recordSpans(t)

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/api/customers/:id/entitlements/:feature", func(c *gin.Context) {
		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), 7))
		_ = c.Error(errs.NotEntitled("not_entitled", "customer is not entitled to this feature"))
		c.Status(http.StatusForbidden)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/customers/1/entitlements/sso", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "GET /api/customers/:id/entitlements/:feature", span.Name())
	a := attrs(span)
	assert.Equal(t, "7", a["org_id"].AsString())
	assert.Equal(t, "not_entitled", a["error.kind"].AsString())
	assert.Equal(t, int64(403), a["http.response.status_code"].AsInt64())
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestGinMiddlewareFailsServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := recordSpans(t)

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/api/usage", func(c *gin.Context) {
		_ = c.Error(errors.New("database is gone"))
		c.Status(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/usage", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, string(errs.KindInternal), attrs(spans[0])["error.kind"].AsString())
}
