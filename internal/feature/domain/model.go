package domain

import (
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type FeatureType string

const (
	FeatureTypeBooleanFlag  FeatureType = "boolean_flag"
	FeatureTypeUsageQuota   FeatureType = "usage_quota"
	FeatureTypeNumericLimit FeatureType = "numeric_limit"
)

func (t FeatureType) Valid() bool {
	switch t {
	case FeatureTypeBooleanFlag, FeatureTypeUsageQuota, FeatureTypeNumericLimit:
		return true
	default:
		return false
	}
}

var nameRegexp = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidName reports whether name is a usable machine key.
func ValidName(name string) bool {
	return nameRegexp.MatchString(name)
}

// Feature is an org-scoped entitlement definition. Name is immutable once created.
type Feature struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	OrgID      snowflake.ID      `gorm:"column:org_id;not null;uniqueIndex:ux_features_org_name,priority:1"`
	Name       string            `gorm:"type:text;not null;uniqueIndex:ux_features_org_name,priority:2"`
	Title      string            `gorm:"type:text;not null"`
	Type       FeatureType       `gorm:"column:feature_type;type:text;not null"`
	Properties datatypes.JSON    `gorm:"type:jsonb;not null"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	IsArchived bool              `gorm:"not null;default:false"`
	CreatedAt  time.Time         `gorm:"not null"`
	UpdatedAt  time.Time         `gorm:"not null"`
}

func (Feature) TableName() string { return "features" }

// Config decodes the stored properties for the feature's type.
func (f *Feature) Config() (Config, error) {
	return DecodeConfig(f.Type, f.Properties)
}
