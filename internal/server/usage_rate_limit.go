package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/observability/logger"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	"github.com/smallbiznis/entitlements/internal/ratelimit"
	"go.uber.org/zap"
)

// UsageRateLimit caps how fast one organization can write usage events. It
// guards the write path only; quota overage is never refused.
func (s *Server) UsageRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		orgID, ok := orgcontext.OrgIDFromContext(ctx)
		if !ok {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		decision, err := s.usageLimiter.AllowOrg(ctx, orgID)
		if err != nil {
			logger.FromContext(ctx).Warn("usage rate limit unavailable", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		writeRateLimitHeaders(c, decision)
		if decision.Allowed {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logger.FromContext(ctx).Info("usage write throttled",
			zap.String("route", route),
			zap.Duration("retry_after", decision.RetryAfter),
		)
		s.obsMetrics.RecordRateLimitDenied(ctx, orgID.String(), route)
		AbortWithError(c, ErrRateLimited)
	}
}

func writeRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return
	}
	c.Header("Retry-After", strconv.Itoa(max(1, int(math.Ceil(d.RetryAfter.Seconds())))))
}
