package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Increment adds record.ConsumedUnits to the counter of the record's period,
	// creating it when absent, and returns the stored row.
	Increment(ctx context.Context, db *gorm.DB, record *UsageRecord) (*UsageRecord, error)
	ListCurrentByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, at time.Time) ([]UsageRecord, error)
	ListCurrentAtRisk(ctx context.Context, db *gorm.DB, orgID snowflake.ID, at time.Time) ([]AtRiskRow, error)
	SumCurrentByFeature(ctx context.Context, db *gorm.DB, orgID snowflake.ID, at time.Time) ([]FeatureTotal, error)
}
