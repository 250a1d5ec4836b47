package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Response, error)
	Transition(ctx context.Context, id string, target SubscriptionStatus) (*Response, error)
	CancelAtPeriodEnd(ctx context.Context, id string) (*Response, error)
	Renew(ctx context.Context, id string) (*Response, error)
	MigrateToVersion(ctx context.Context, req MigrateRequest) (*Response, error)
}

type CreateRequest struct {
	CustomerID  string             `json:"customer_id"`
	PriceID     string             `json:"price_id"`
	Status      SubscriptionStatus `json:"status"`
	PeriodStart *time.Time         `json:"period_start"`
}

type MigrateRequest struct {
	SubscriptionID string `json:"-"`
	ProductID      string `json:"product_id"`
	PriceID        string `json:"price_id"`
}

type Response struct {
	ID                 snowflake.ID       `json:"id"`
	OrganizationID     snowflake.ID       `json:"organization_id"`
	CustomerID         snowflake.ID       `json:"customer_id"`
	ProductID          snowflake.ID       `json:"product_id"`
	PriceID            snowflake.ID       `json:"price_id"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	EndedAt            *time.Time         `json:"ended_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

var (
	ErrInvalidOrganization = errs.Validation("invalid_organization", "organization is required")
	ErrInvalidCustomer     = errs.Validation("invalid_customer_id", "invalid customer id")
	ErrInvalidSubscription = errs.Validation("invalid_id", "invalid subscription id")
	ErrInvalidPrice        = errs.Validation("invalid_price_id", "invalid price id")
	ErrInvalidProduct      = errs.Validation("invalid_product_id", "invalid product id")
	ErrInvalidStatus       = errs.Validation("invalid_status", "status must be trialing, active or incomplete")
	ErrInvalidTrial        = errs.Validation("invalid_status", "product has no trial period")
	ErrInvalidTargetStatus = errs.Validation("invalid_target_status", "unknown subscription status")
	ErrPriceNotInProduct   = errs.Validation("invalid_price_id", "price does not belong to the product version")
	ErrPriceArchived       = errs.Validation("price_archived", "archived prices cannot be subscribed to")
	ErrSameVersion         = errs.Validation("invalid_product_id", "subscription is already on this version")
	ErrOtherChain          = errs.Validation("invalid_product_id", "target version belongs to another product")
	ErrPriceNotFound       = errs.NotFound("price_not_found", "price not found")
	ErrProductNotFound     = errs.NotFound("product_not_found", "product not found")
	ErrNotFound            = errs.NotFound("subscription_not_found", "subscription not found")
	ErrProductNotCurrent   = errs.InvalidState("version_not_current", "new subscriptions need the current product version")
	ErrProductArchived     = errs.InvalidState("product_archived", "product is archived")
	ErrProductDeprecated   = errs.InvalidState("version_deprecated", "product version is deprecated")
	ErrInvalidTransition   = errs.InvalidState("invalid_transition", "status transition is not allowed")
	ErrTerminal            = errs.InvalidState("subscription_ended", "subscription has ended")
	ErrNotRenewable        = errs.InvalidState("not_renewable", "subscription status does not renew")
	ErrPeriodNotEnded      = errs.InvalidState("period_not_ended", "current period has not ended")
	ErrRenewalCanceled     = errs.InvalidState("cancel_at_period_end", "subscription cancels at period end")
	ErrConcurrentUpdate    = errs.Conflict("subscription_changed", "subscription was changed concurrently")
)

