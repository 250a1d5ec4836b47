package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

// Service exposes prices read-only; price lines change through product edits.
type Service interface {
	Get(ctx context.Context, id string) (*Response, error)
	ListByProduct(ctx context.Context, productID string) ([]Response, error)
}

type Response struct {
	ID                     snowflake.ID     `json:"id"`
	OrganizationID         snowflake.ID     `json:"organization_id"`
	ProductID              snowflake.ID     `json:"product_id"`
	PreviousPriceID        *snowflake.ID    `json:"previous_price_id,omitempty"`
	AmountType             AmountType       `json:"amount_type"`
	PriceAmount            *int64           `json:"price_amount,omitempty"`
	PriceCurrency          string           `json:"price_currency"`
	RecurringInterval      *BillingInterval `json:"recurring_interval,omitempty"`
	RecurringIntervalCount *int             `json:"recurring_interval_count,omitempty"`
	IsArchived             bool             `json:"is_archived"`
	ExternalID             *string          `json:"external_id,omitempty"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

func ToResponse(p *Price) Response {
	return Response{
		ID:                     p.ID,
		OrganizationID:         p.OrgID,
		ProductID:              p.ProductID,
		PreviousPriceID:        p.PreviousPriceID,
		AmountType:             p.AmountType,
		PriceAmount:            p.PriceAmount,
		PriceCurrency:          p.PriceCurrency,
		RecurringInterval:      p.RecurringInterval,
		RecurringIntervalCount: p.RecurringIntervalCount,
		IsArchived:             p.IsArchived,
		ExternalID:             p.ExternalID,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

var (
	ErrInvalidOrganization  = errs.Validation("invalid_organization", "organization is required")
	ErrInvalidID            = errs.Validation("invalid_id", "invalid price id")
	ErrInvalidProductID     = errs.Validation("invalid_product_id", "invalid product id")
	ErrInvalidAmountType    = errs.Validation("invalid_amount_type", "amount_type must be fixed or free")
	ErrInvalidAmount        = errs.Validation("invalid_price_amount", "a fixed price needs a positive integer amount in cents")
	ErrAmountOnFreePrice    = errs.Validation("invalid_price_amount", "a free price never carries an amount")
	ErrInvalidCurrency      = errs.Validation("invalid_price_currency", "currency must be a lower-case ISO 4217 code")
	ErrInvalidInterval      = errs.Validation("invalid_recurring_interval", "interval must be day, week, month or year")
	ErrInvalidIntervalCount = errs.Validation("invalid_recurring_interval_count", "interval count must be at least 1")
	ErrNotFound             = errs.NotFound("price_not_found", "price not found")
)
