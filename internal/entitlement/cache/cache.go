// Package cache is the read-through Redis cache in front of entitlement
// resolution. A Cache built on a nil client never hits and never fails.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyEntitlements = "entitlements:%s:%s"

var Module = fx.Module("entitlement.cache",
	fx.Provide(New),
)

type Cache struct {
	client *redis.Client
	log    *zap.Logger
}

func New(client *redis.Client, log *zap.Logger) *Cache {
	return &Cache{client: client, log: log.Named("entitlement.cache")}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

func key(orgID, customerID snowflake.ID) string {
	return fmt.Sprintf(keyEntitlements, orgID, customerID)
}

// Get decodes the cached value into dst. It reports false on a miss.
func (c *Cache) Get(ctx context.Context, orgID, customerID snowflake.ID, dst any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	raw, err := c.client.Get(ctx, key(orgID, customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, orgID, customerID snowflake.ID, value any, ttl time.Duration) error {
	if !c.Enabled() || ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(orgID, customerID), raw, ttl).Err()
}

// Invalidate drops a customer's cached entitlements. Failures are logged
// only; a stale entry expires with its TTL.
func (c *Cache) Invalidate(ctx context.Context, orgID, customerID snowflake.ID) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Del(ctx, key(orgID, customerID)).Err(); err != nil {
		c.log.Warn("entitlement cache invalidate failed",
			zap.String("customer_id", customerID.String()),
			zap.Error(err),
		)
	}
}
