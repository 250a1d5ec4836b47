package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const usageColumns = `id, org_id, customer_id, feature_id, period_start, period_end, consumed_units, limit_units, created_at, updated_at`

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

// Increment is a single-statement upsert so concurrent writers never lose an update.
func (r *repo) Increment(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) (*usagedomain.UsageRecord, error) {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "org_id"},
			{Name: "customer_id"},
			{Name: "feature_id"},
			{Name: "period_start"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"consumed_units": gorm.Expr("usage_records.consumed_units + ?", record.ConsumedUnits),
			"limit_units":    record.LimitUnits,
			"updated_at":     record.UpdatedAt,
		}),
	}).Create(record).Error
	if err != nil {
		return nil, err
	}

	var stored usagedomain.UsageRecord
	err = db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+` FROM usage_records
		 WHERE org_id = ? AND customer_id = ? AND feature_id = ? AND period_start = ?`,
		record.OrgID, record.CustomerID, record.FeatureID, record.PeriodStart,
	).Scan(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *repo) ListCurrentByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, at time.Time) ([]usagedomain.UsageRecord, error) {
	var items []usagedomain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+` FROM usage_records
		 WHERE org_id = ? AND customer_id = ? AND period_start <= ? AND period_end > ?`,
		orgID, customerID, at, at,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCurrentAtRisk(ctx context.Context, db *gorm.DB, orgID snowflake.ID, at time.Time) ([]usagedomain.AtRiskRow, error) {
	var items []usagedomain.AtRiskRow
	err := db.WithContext(ctx).Raw(
		`SELECT u.id, u.org_id, u.customer_id, u.feature_id, u.period_start, u.period_end,
		        u.consumed_units, u.limit_units, u.created_at, u.updated_at, f.name AS feature_key
		   FROM usage_records u
		   JOIN features f ON f.id = u.feature_id AND f.org_id = u.org_id
		  WHERE u.org_id = ? AND u.period_start <= ? AND u.period_end > ? AND u.limit_units > 0`,
		orgID, at, at,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumCurrentByFeature(ctx context.Context, db *gorm.DB, orgID snowflake.ID, at time.Time) ([]usagedomain.FeatureTotal, error) {
	var items []usagedomain.FeatureTotal
	err := db.WithContext(ctx).Raw(
		`SELECT u.feature_id, f.name AS feature_key,
		        SUM(u.consumed_units) AS consumed_units, COUNT(DISTINCT u.customer_id) AS customers
		   FROM usage_records u
		   JOIN features f ON f.id = u.feature_id AND f.org_id = u.org_id
		  WHERE u.org_id = ? AND u.period_start <= ? AND u.period_end > ?
		  GROUP BY u.feature_id, f.name
		  ORDER BY f.name ASC`,
		orgID, at, at,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
