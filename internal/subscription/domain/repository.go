package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, statuses []SubscriptionStatus) ([]Subscription, error)
	ListByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID, statuses []SubscriptionStatus) ([]Subscription, error)
	CountByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID, statuses []SubscriptionStatus) (int64, error)

	// UpdateLifecycle writes status and lifecycle timestamps if the row is still in from.
	UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *Subscription, from SubscriptionStatus) (int64, error)
	// UpdatePeriod writes status and period bounds if the row is still in from
	// and its period still ends at fromEnd.
	UpdatePeriod(ctx context.Context, db *gorm.DB, subscription *Subscription, from SubscriptionStatus, fromEnd time.Time) (int64, error)
	// UpdateBinding moves the subscription to another version if it is still bound to fromProductID.
	UpdateBinding(ctx context.Context, db *gorm.DB, subscription *Subscription, fromProductID snowflake.ID) (int64, error)

	InsertGrants(ctx context.Context, db *gorm.DB, grants []FeatureGrant) error
	// RevokeGrants revokes the active grants of a subscription; nil featureIDs revokes all.
	RevokeGrants(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, featureIDs []snowflake.ID, now time.Time) error
	ListActiveGrants(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) ([]FeatureGrant, error)
	// FindEntitledGrant returns an active grant whose subscription is in one of statuses.
	FindEntitledGrant(ctx context.Context, db *gorm.DB, orgID, customerID, featureID snowflake.ID, statuses []SubscriptionStatus) (*FeatureGrant, error)
}
