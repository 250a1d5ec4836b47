package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
)

// ResolvedFeature is one feature a customer can use right now, merged across
// all of the customer's entitled subscriptions.
type ResolvedFeature struct {
	FeatureID    snowflake.ID               `json:"feature_id"`
	Name         string                     `json:"name"`
	Title        string                     `json:"title"`
	Type         featuredomain.FeatureType  `json:"type"`
	DisplayOrder int                        `json:"display_order"`
	Enabled      *bool                      `json:"enabled,omitempty"`
	Limit        *int64                     `json:"limit,omitempty"`
	ResetCadence featuredomain.ResetCadence `json:"reset_cadence,omitempty"`
	Usage        *UsageSnapshot             `json:"usage,omitempty"`
}

// UsageSnapshot is the current-period consumption of a usage_quota feature.
// When nothing was recorded yet it is synthesized with zero consumption.
type UsageSnapshot struct {
	ConsumedUnits int64     `json:"consumed_units"`
	LimitUnits    int64     `json:"limit_units"`
	PeriodStart   time.Time `json:"period_start"`
	ResetsAt      time.Time `json:"resets_at"`
}

// NewResolvedFeature flattens cfg into the resolved view.
func NewResolvedFeature(id snowflake.ID, name, title string, order int, cfg featuredomain.Config) ResolvedFeature {
	rf := ResolvedFeature{
		FeatureID:    id,
		Name:         name,
		Title:        title,
		Type:         cfg.Type(),
		DisplayOrder: order,
	}
	switch c := cfg.(type) {
	case featuredomain.BooleanFlagConfig:
		rf.Enabled = &c.Enabled
	case featuredomain.UsageQuotaConfig:
		rf.Limit = &c.Limit
		rf.ResetCadence = c.ResetCadence
	case featuredomain.NumericLimitConfig:
		rf.Limit = &c.Max
	}
	return rf
}

// Config rebuilds the typed config of the resolved feature.
func (f *ResolvedFeature) Config() featuredomain.Config {
	switch f.Type {
	case featuredomain.FeatureTypeBooleanFlag:
		return featuredomain.BooleanFlagConfig{Enabled: f.Enabled != nil && *f.Enabled}
	case featuredomain.FeatureTypeUsageQuota:
		return featuredomain.UsageQuotaConfig{Limit: deref(f.Limit), ResetCadence: f.ResetCadence}
	case featuredomain.FeatureTypeNumericLimit:
		return featuredomain.NumericLimitConfig{Max: deref(f.Limit)}
	}
	return nil
}

// Granted reports whether the feature actually confers access. A disabled
// flag is resolved but not granted.
func (f *ResolvedFeature) Granted() bool {
	if f.Type == featuredomain.FeatureTypeBooleanFlag {
		return f.Enabled != nil && *f.Enabled
	}
	return true
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
