package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/productfeature/domain"
	"gorm.io/gorm"
)

const assignmentQuery = `SELECT pf.product_id, pf.feature_id, pf.display_order, pf.config_override, pf.created_at,
		f.name, f.title, f.feature_type, f.properties
	   FROM product_features pf
	   JOIN features f ON f.id = pf.feature_id AND f.org_id = pf.org_id
	  WHERE pf.org_id = ? AND `

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]domain.FeatureAssignment, error) {
	var items []domain.FeatureAssignment
	err := db.WithContext(ctx).Raw(
		assignmentQuery+`pf.product_id = ?
		  ORDER BY pf.display_order ASC, f.name ASC`,
		orgID,
		productID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByProducts(ctx context.Context, db *gorm.DB, orgID snowflake.ID, productIDs []snowflake.ID) ([]domain.FeatureAssignment, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var items []domain.FeatureAssignment
	err := db.WithContext(ctx).Raw(
		assignmentQuery+`pf.product_id IN ?
		  ORDER BY pf.product_id ASC, pf.display_order ASC`,
		orgID,
		productIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, items []domain.ProductFeature) error {
	for _, item := range items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO product_features (product_id, feature_id, org_id, display_order, config_override, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			item.ProductID,
			item.FeatureID,
			item.OrgID,
			item.DisplayOrder,
			item.ConfigOverride,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, item domain.ProductFeature) error {
	return db.WithContext(ctx).Exec(
		`UPDATE product_features SET display_order = ?, config_override = ?
		 WHERE org_id = ? AND product_id = ? AND feature_id = ?`,
		item.DisplayOrder,
		item.ConfigOverride,
		item.OrgID,
		item.ProductID,
		item.FeatureID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID, featureIDs []snowflake.ID) error {
	if len(featureIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM product_features WHERE org_id = ? AND product_id = ? AND feature_id IN ?`,
		orgID, productID, featureIDs,
	).Error
}
