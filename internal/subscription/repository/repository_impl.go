package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, org_id, customer_id, product_id, price_id, status, current_period_start,
	current_period_end, cancel_at_period_end, canceled_at, ended_at, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrgID,
		subscription.CustomerID,
		subscription.ProductID,
		subscription.PriceID,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CancelAtPeriodEnd,
		subscription.CanceledAt,
		subscription.EndedAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID, id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, statuses []subscriptiondomain.SubscriptionStatus) ([]subscriptiondomain.Subscription, error) {
	stmt := db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("org_id = ? AND customer_id = ?", orgID, customerID)
	if len(statuses) > 0 {
		stmt = stmt.Where("status IN ?", statuses)
	}

	var items []subscriptiondomain.Subscription
	if err := stmt.Order("created_at ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID, statuses []subscriptiondomain.SubscriptionStatus) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE org_id = ? AND product_id = ? AND status IN ?
		 ORDER BY id ASC`,
		orgID, productID, statuses,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID, statuses []subscriptiondomain.SubscriptionStatus) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscriptions
		 WHERE org_id = ? AND product_id = ? AND status IN ?`,
		orgID, productID, statuses,
	).Scan(&count).Error
	return count, err
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription, from subscriptiondomain.SubscriptionStatus) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		    SET status = ?, cancel_at_period_end = ?, canceled_at = ?, ended_at = ?, updated_at = ?
		  WHERE org_id = ? AND id = ? AND status = ?`,
		subscription.Status,
		subscription.CancelAtPeriodEnd,
		subscription.CanceledAt,
		subscription.EndedAt,
		subscription.UpdatedAt,
		subscription.OrgID,
		subscription.ID,
		from,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdatePeriod(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription, from subscriptiondomain.SubscriptionStatus, fromEnd time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		    SET status = ?, current_period_start = ?, current_period_end = ?, updated_at = ?
		  WHERE org_id = ? AND id = ? AND status = ? AND current_period_end = ?`,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.UpdatedAt,
		subscription.OrgID,
		subscription.ID,
		from,
		fromEnd,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateBinding(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription, fromProductID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET product_id = ?, price_id = ?, updated_at = ?
		  WHERE org_id = ? AND id = ? AND product_id = ?`,
		subscription.ProductID,
		subscription.PriceID,
		subscription.UpdatedAt,
		subscription.OrgID,
		subscription.ID,
		fromProductID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertGrants(ctx context.Context, db *gorm.DB, grants []subscriptiondomain.FeatureGrant) error {
	for _, grant := range grants {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO feature_grants (id, org_id, customer_id, feature_id, subscription_id, product_id, granted_at, revoked_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			grant.ID,
			grant.OrgID,
			grant.CustomerID,
			grant.FeatureID,
			grant.SubscriptionID,
			grant.ProductID,
			grant.GrantedAt,
			grant.RevokedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) RevokeGrants(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, featureIDs []snowflake.ID, now time.Time) error {
	stmt := db.WithContext(ctx).
		Model(&subscriptiondomain.FeatureGrant{}).
		Where("org_id = ? AND subscription_id = ? AND revoked_at IS NULL", orgID, subscriptionID)
	if featureIDs != nil {
		if len(featureIDs) == 0 {
			return nil
		}
		stmt = stmt.Where("feature_id IN ?", featureIDs)
	}
	return stmt.Update("revoked_at", now).Error
}

func (r *repo) ListActiveGrants(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) ([]subscriptiondomain.FeatureGrant, error) {
	var items []subscriptiondomain.FeatureGrant
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, feature_id, subscription_id, product_id, granted_at, revoked_at
		   FROM feature_grants
		  WHERE org_id = ? AND subscription_id = ? AND revoked_at IS NULL
		  ORDER BY id ASC`,
		orgID, subscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindEntitledGrant(ctx context.Context, db *gorm.DB, orgID, customerID, featureID snowflake.ID, statuses []subscriptiondomain.SubscriptionStatus) (*subscriptiondomain.FeatureGrant, error) {
	var grant subscriptiondomain.FeatureGrant
	err := db.WithContext(ctx).Raw(
		`SELECT g.id, g.org_id, g.customer_id, g.feature_id, g.subscription_id, g.product_id, g.granted_at, g.revoked_at
		   FROM feature_grants g
		   JOIN subscriptions s ON s.id = g.subscription_id AND s.org_id = g.org_id
		  WHERE g.org_id = ? AND g.customer_id = ? AND g.feature_id = ?
		    AND g.revoked_at IS NULL AND s.status IN ?
		  ORDER BY g.granted_at ASC, g.id ASC
		  LIMIT 1`,
		orgID, customerID, featureID, statuses,
	).Scan(&grant).Error
	if err != nil {
		return nil, err
	}
	if grant.ID == 0 {
		return nil, nil
	}
	return &grant, nil
}
