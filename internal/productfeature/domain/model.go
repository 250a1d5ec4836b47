package domain

import (
	"bytes"
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"gorm.io/datatypes"
)

// ProductFeature attaches a feature to one product version.
type ProductFeature struct {
	ProductID      snowflake.ID   `gorm:"primaryKey;column:product_id"`
	FeatureID      snowflake.ID   `gorm:"primaryKey;column:feature_id"`
	OrgID          snowflake.ID   `gorm:"column:org_id;not null;index"`
	DisplayOrder   int            `gorm:"not null;default:0"`
	ConfigOverride datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (ProductFeature) TableName() string { return "product_features" }

// FeatureAssignment is an attachment joined with its feature definition.
type FeatureAssignment struct {
	ProductID      snowflake.ID
	FeatureID      snowflake.ID
	Name           string
	Title          string
	FeatureType    featuredomain.FeatureType
	Properties     datatypes.JSON
	ConfigOverride datatypes.JSON
	DisplayOrder   int
	CreatedAt      time.Time
}

// EffectiveConfig is the override when present, otherwise the feature default.
func (a *FeatureAssignment) EffectiveConfig() (featuredomain.Config, error) {
	if len(a.ConfigOverride) > 0 && string(a.ConfigOverride) != "null" {
		return featuredomain.DecodeConfig(a.FeatureType, a.ConfigOverride)
	}
	return featuredomain.DecodeConfig(a.FeatureType, a.Properties)
}

func (a *FeatureAssignment) Attachment(orgID snowflake.ID) ProductFeature {
	return ProductFeature{
		ProductID:      a.ProductID,
		FeatureID:      a.FeatureID,
		OrgID:          orgID,
		DisplayOrder:   a.DisplayOrder,
		ConfigOverride: a.ConfigOverride,
		CreatedAt:      a.CreatedAt,
	}
}

// NewAttachment validates an override against the feature's type and builds
// the attachment row.
func NewAttachment(feature *featuredomain.Feature, productID snowflake.ID, order int, override []byte, now time.Time) (ProductFeature, error) {
	if feature.IsArchived {
		return ProductFeature{}, ErrFeatureArchived
	}
	pf := ProductFeature{
		ProductID:    productID,
		FeatureID:    feature.ID,
		OrgID:        feature.OrgID,
		DisplayOrder: order,
		CreatedAt:    now,
	}
	if trimmed := bytes.TrimSpace(override); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		cfg, err := featuredomain.DecodeConfig(feature.Type, trimmed)
		if err != nil {
			return ProductFeature{}, errs.Wrap(ErrInvalidOverride, "%v", err)
		}
		encoded, err := featuredomain.EncodeConfig(cfg)
		if err != nil {
			return ProductFeature{}, err
		}
		pf.ConfigOverride = encoded
	}
	return pf, nil
}
