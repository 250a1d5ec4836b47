package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	"gorm.io/datatypes"
)

type VersionStatus string

const (
	VersionCurrent    VersionStatus = "current"
	VersionSuperseded VersionStatus = "superseded"
	VersionDeprecated VersionStatus = "deprecated"
)

// Product is one version of a sellable offering. All versions of a chain
// share ChainRootID; at most one of them is current.
type Product struct {
	ID                     snowflake.ID                `gorm:"primaryKey"`
	OrgID                  snowflake.ID                `gorm:"column:org_id;not null;index"`
	ChainRootID            snowflake.ID                `gorm:"column:chain_root_id;not null;uniqueIndex:ux_products_chain_current,where:version_status = 'current'"`
	Name                   string                      `gorm:"type:text;not null"`
	Description            *string                     `gorm:"type:text"`
	RecurringInterval      pricedomain.BillingInterval `gorm:"type:text;not null"`
	RecurringIntervalCount int                         `gorm:"not null;default:1"`
	TrialDays              int                         `gorm:"not null;default:0"`
	Metadata               datatypes.JSONMap           `gorm:"type:jsonb"`
	IsArchived             bool                        `gorm:"not null;default:false"`
	Version                int                         `gorm:"not null;default:1"`
	ParentProductID        *snowflake.ID               `gorm:"column:parent_product_id"`
	LatestVersionID        *snowflake.ID               `gorm:"column:latest_version_id"`
	VersionStatus          VersionStatus               `gorm:"type:text;not null"`
	VersionCreatedReason   *string                     `gorm:"type:text"`
	VersionCreatedAt       time.Time                   `gorm:"not null"`
	CreatedAt              time.Time                   `gorm:"not null"`
	UpdatedAt              time.Time                   `gorm:"not null"`
}

func (Product) TableName() string { return "products" }

func (p *Product) IsCurrent() bool {
	return p.VersionStatus == VersionCurrent
}

// NextPeriodEnd is the end of a billing period that starts at start.
func (p *Product) NextPeriodEnd(start time.Time) time.Time {
	return p.RecurringInterval.Advance(start, p.RecurringIntervalCount)
}

// Validate checks the product invariants that do not need storage.
func (p *Product) Validate() error {
	switch {
	case p.Name == "":
		return ErrInvalidName
	case !p.RecurringInterval.Valid():
		return ErrInvalidInterval
	case p.RecurringIntervalCount < 1:
		return ErrInvalidIntervalCount
	case p.TrialDays < 0:
		return ErrInvalidTrialDays
	}
	return nil
}
