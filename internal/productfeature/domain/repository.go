package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	ListByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]FeatureAssignment, error)
	ListByProducts(ctx context.Context, db *gorm.DB, orgID snowflake.ID, productIDs []snowflake.ID) ([]FeatureAssignment, error)
	Insert(ctx context.Context, db *gorm.DB, items []ProductFeature) error
	Update(ctx context.Context, db *gorm.DB, item ProductFeature) error
	Delete(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID, featureIDs []snowflake.ID) error
}
