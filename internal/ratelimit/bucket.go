package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// takeScript refills the bucket from the redis clock and tries to take one
// token. Tokens are stored in thousandths so the reply stays integral.
// Reply: {allowed, remaining_milli, wait_ms}.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2]) * 1000
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local state = redis.call("HMGET", KEYS[1], "milli", "at")
local milli = tonumber(state[1])
local at = tonumber(state[2])
if milli == nil or at == nil then
  milli = burst
elseif now > at then
  milli = math.min(burst, milli + (now - at) * rate)
end

local allowed = 0
local wait = 0
if milli >= 1000 then
  allowed = 1
  milli = milli - 1000
else
  wait = math.ceil((1000 - milli) / rate)
end

redis.call("HSET", KEYS[1], "milli", math.floor(milli), "at", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(milli), wait}
`

var (
	ErrNotConfigured = errors.New("ratelimit: bucket has no redis client")
	ErrInvalidBucket = errors.New("ratelimit: key, rate and burst are required")
)

// Decision is the outcome of taking one token.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Bucket is a token bucket kept in a redis hash and updated atomically by a
// Lua script, so every API replica shares the same budget.
type Bucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewBucket(client redis.Scripter) *Bucket {
	return &Bucket{client: client, script: redis.NewScript(takeScript)}
}

// Take removes one token from key. rate is tokens per second; burst is the
// bucket capacity.
func (b *Bucket) Take(ctx context.Context, key string, rate float64, burst int) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, ErrNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return Decision{}, ErrInvalidBucket
	}

	// rate per millisecond in milli-tokens equals rate per second in tokens
	reply, err := b.script.Run(ctx, b.client, []string{key}, rate, burst, idleTTL(rate, burst).Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: take %s: %w", key, err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected reply %v", reply)
	}
	return Decision{
		Allowed:    reply[0] == 1,
		Limit:      burst,
		Remaining:  int(reply[1] / 1000),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

// idleTTL keeps a bucket around for twice the time it takes to refill.
func idleTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(2*float64(burst)/rate))
	return time.Duration(seconds) * time.Second
}
