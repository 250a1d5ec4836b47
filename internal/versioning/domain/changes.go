package domain

import (
	"encoding/json"

	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
)

// ProductChanges is a partial edit of the current version of a product.
// Nil fields are left unchanged.
type ProductChanges struct {
	Name                   *string                      `json:"name,omitempty"`
	Description            *string                      `json:"description,omitempty"`
	Metadata               map[string]any               `json:"metadata,omitempty"`
	IsArchived             *bool                        `json:"is_archived,omitempty"`
	TrialDays              *int                         `json:"trial_days,omitempty"`
	RecurringInterval      *pricedomain.BillingInterval `json:"recurring_interval,omitempty"`
	RecurringIntervalCount *int                         `json:"recurring_interval_count,omitempty"`
	Prices                 []PriceChange                `json:"prices,omitempty"`
	AddFeatures            []FeatureAddition            `json:"add_features,omitempty"`
	RemoveFeatures         []string                     `json:"remove_features,omitempty"`
	UpdateFeatures         []FeatureUpdate              `json:"update_features,omitempty"`
}

func (c *ProductChanges) Empty() bool {
	return c.Name == nil && c.Description == nil && c.Metadata == nil && c.IsArchived == nil &&
		c.TrialDays == nil && c.RecurringInterval == nil && c.RecurringIntervalCount == nil &&
		len(c.Prices) == 0 && len(c.AddFeatures) == 0 && len(c.RemoveFeatures) == 0 &&
		len(c.UpdateFeatures) == 0
}

type PriceChange struct {
	PriceID                string                       `json:"price_id"`
	AmountType             *pricedomain.AmountType      `json:"amount_type,omitempty"`
	PriceAmount            *int64                       `json:"price_amount,omitempty"`
	PriceCurrency          *string                      `json:"price_currency,omitempty"`
	RecurringInterval      *pricedomain.BillingInterval `json:"recurring_interval,omitempty"`
	RecurringIntervalCount *int                         `json:"recurring_interval_count,omitempty"`
}

type FeatureAddition struct {
	FeatureID      string          `json:"feature_id"`
	DisplayOrder   int             `json:"display_order"`
	ConfigOverride json.RawMessage `json:"config_override,omitempty"`
}

// FeatureUpdate changes an attachment. A JSON null override clears it back
// to the feature default; an absent override leaves it alone.
type FeatureUpdate struct {
	FeatureID      string          `json:"feature_id"`
	DisplayOrder   *int            `json:"display_order,omitempty"`
	ConfigOverride json.RawMessage `json:"config_override,omitempty"`
}
