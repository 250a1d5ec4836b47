package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/entitlements/internal/observability/context"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "entitlements/http"

// GinMiddleware opens a server span per request, continuing any inbound
// trace. Domain refusals (not_entitled, conflict, ...) are tagged on the span
// but only 5xx responses mark it failed.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.request.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)

		// handlers may have replaced the request context with a tenant scoped one
		reqCtx := c.Request.Context()
		if requestID := obscontext.RequestIDFromContext(reqCtx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		if orgID, ok := orgcontext.OrgIDFromContext(reqCtx); ok {
			span.SetAttributes(attribute.String("org_id", orgID.String()))
		}

		last := c.Errors.Last()
		if last == nil {
			return
		}
		kind := errs.KindOf(last.Err)
		span.SetAttributes(attribute.String("error.kind", string(kind)))
		if coded, ok := errs.As(last.Err); ok {
			span.SetAttributes(attribute.String("error.code", coded.Code))
		}
		if status >= http.StatusInternalServerError {
			span.RecordError(last.Err)
			span.SetStatus(codes.Error, string(kind))
		}
	}
}
