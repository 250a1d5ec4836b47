// Package pricesync tells the payment provider about prices created by a
// version bump. Notifications are fire-and-forget: a failure is logged and
// never rolls back or fails the edit that caused it.
package pricesync

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
)

// PriceVersioned describes a price copied onto a new product version.
type PriceVersioned struct {
	OrgID         snowflake.ID
	ChainRootID   snowflake.ID
	ProductID     snowflake.ID
	ProductName   string
	OldPriceID    snowflake.ID
	OldExternalID *string
	// LookupKey is stable across versions of the same price line.
	LookupKey string
	Interval  pricedomain.BillingInterval
	Count     int
	Price     pricedomain.Price
}

type Notifier interface {
	Name() string
	// PriceVersioned creates the replacement price at the provider and
	// returns its provider id, or "" when the provider keeps no id.
	PriceVersioned(ctx context.Context, event PriceVersioned) (string, error)
}

type NoopNotifier struct{}

func (NoopNotifier) Name() string { return "noop" }

func (NoopNotifier) PriceVersioned(context.Context, PriceVersioned) (string, error) {
	return "", nil
}
