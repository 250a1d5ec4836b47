package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	"github.com/smallbiznis/entitlements/pkg/db/pagination"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

// Service covers the product lifecycle outside of edits. Edits go through
// the version chain manager.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	ListVersions(ctx context.Context, id string) ([]Response, error)
	Deprecate(ctx context.Context, id string) (*Response, error)
}

type PriceInput struct {
	AmountType             pricedomain.AmountType       `json:"amount_type"`
	PriceAmount            *int64                       `json:"price_amount"`
	PriceCurrency          string                       `json:"price_currency"`
	RecurringInterval      *pricedomain.BillingInterval `json:"recurring_interval"`
	RecurringIntervalCount *int                         `json:"recurring_interval_count"`
}

type FeatureInput struct {
	FeatureID      string          `json:"feature_id"`
	DisplayOrder   int             `json:"display_order"`
	ConfigOverride json.RawMessage `json:"config_override"`
}

type CreateRequest struct {
	Name                   string                      `json:"name"`
	Description            *string                     `json:"description"`
	RecurringInterval      pricedomain.BillingInterval `json:"recurring_interval"`
	RecurringIntervalCount int                         `json:"recurring_interval_count"`
	TrialDays              int                         `json:"trial_days"`
	Metadata               map[string]any              `json:"metadata"`
	Prices                 []PriceInput                `json:"prices"`
	Features               []FeatureInput              `json:"features"`
}

type ListRequest struct {
	IncludeArchived   bool
	IncludeSuperseded bool
	pagination.Pagination
}

type Response struct {
	ID                     snowflake.ID                    `json:"id"`
	OrganizationID         snowflake.ID                    `json:"organization_id"`
	ChainRootID            snowflake.ID                    `json:"chain_root_id"`
	Name                   string                          `json:"name"`
	Description            *string                         `json:"description,omitempty"`
	RecurringInterval      pricedomain.BillingInterval     `json:"recurring_interval"`
	RecurringIntervalCount int                             `json:"recurring_interval_count"`
	TrialDays              int                             `json:"trial_days"`
	Metadata               map[string]any                  `json:"metadata,omitempty"`
	IsArchived             bool                            `json:"is_archived"`
	Version                int                             `json:"version"`
	ParentProductID        *snowflake.ID                   `json:"parent_product_id,omitempty"`
	LatestVersionID        *snowflake.ID                   `json:"latest_version_id,omitempty"`
	VersionStatus          VersionStatus                   `json:"version_status"`
	VersionCreatedReason   *string                         `json:"version_created_reason,omitempty"`
	VersionCreatedAt       time.Time                       `json:"version_created_at"`
	Prices                 []pricedomain.Response          `json:"prices,omitempty"`
	Features               []productfeaturedomain.Response `json:"features,omitempty"`
	CreatedAt              time.Time                       `json:"created_at"`
	UpdatedAt              time.Time                       `json:"updated_at"`
}

type ListResponse struct {
	Products []Response          `json:"products"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidOrganization  = errs.Validation("invalid_organization", "organization is required")
	ErrInvalidID            = errs.Validation("invalid_id", "invalid product id")
	ErrInvalidName          = errs.Validation("invalid_name", "name is required")
	ErrInvalidInterval      = errs.Validation("invalid_recurring_interval", "interval must be day, week, month or year")
	ErrInvalidIntervalCount = errs.Validation("invalid_recurring_interval_count", "interval count must be at least 1")
	ErrInvalidTrialDays     = errs.Validation("invalid_trial_days", "trial days cannot be negative")
	ErrInvalidFeatureID     = errs.Validation("invalid_feature_id", "invalid feature id")
	ErrDuplicateFeature     = errs.Validation("duplicate_feature", "a feature can be attached once per version")
	ErrInvalidPageToken     = errs.Validation("invalid_page_token", "invalid page token")
	ErrFeatureNotFound      = errs.NotFound("feature_not_found", "feature not found")
	ErrNotFound             = errs.NotFound("product_not_found", "product not found")
	ErrNotCurrent           = errs.InvalidState("version_not_current", "only the current version of a product can be edited")
	ErrAlreadyDeprecated    = errs.InvalidState("version_deprecated", "product version is already deprecated")
)
