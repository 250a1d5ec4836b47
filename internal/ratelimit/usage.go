package ratelimit

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitlements/internal/config"
)

var (
	ErrRedisRequired   = errors.New("ratelimit: RATE_LIMIT_ENABLED needs REDIS_ADDR")
	ErrInvalidUsageCap = errors.New("ratelimit: usage rate and burst must be positive")
)

func usageKey(orgID snowflake.ID) string {
	return "entitlements:usage:record:" + orgID.String()
}

// UsageLimiter throttles usage recording per organization. A nil limiter
// allows everything.
type UsageLimiter struct {
	bucket *Bucket
	rate   float64
	burst  int
}

func NewUsageLimiter(cfg config.Config, client *redis.Client) (*UsageLimiter, error) {
	rl := cfg.RateLimit
	switch {
	case !rl.Enabled:
		return nil, nil
	case client == nil:
		return nil, ErrRedisRequired
	case rl.UsageOrgRate <= 0 || rl.UsageOrgBurst <= 0:
		return nil, ErrInvalidUsageCap
	}
	return &UsageLimiter{bucket: NewBucket(client), rate: rl.UsageOrgRate, burst: rl.UsageOrgBurst}, nil
}

func (l *UsageLimiter) Enabled() bool {
	return l != nil
}

// AllowOrg spends one usage write from the organization's budget.
func (l *UsageLimiter) AllowOrg(ctx context.Context, orgID snowflake.ID) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, usageKey(orgID), l.rate, l.burst)
}
