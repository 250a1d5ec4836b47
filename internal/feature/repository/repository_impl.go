package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/feature/domain"
	"gorm.io/gorm"
)

const featureColumns = `id, org_id, name, title, feature_type, properties, metadata, is_archived, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (`+featureColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feature.ID,
		feature.OrgID,
		feature.Name,
		feature.Title,
		feature.Type,
		feature.Properties,
		feature.Metadata,
		feature.IsArchived,
		feature.CreatedAt,
		feature.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE org_id = ? AND id = ?`,
		orgID, id,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, orgID snowflake.ID, name string) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE org_id = ? AND name = ?`,
		orgID, name,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListRequest) ([]domain.Feature, error) {
	stmt := db.WithContext(ctx).Model(&domain.Feature{}).Where("org_id = ?", orgID)
	if filter.Type != nil {
		stmt = stmt.Where("feature_type = ?", *filter.Type)
	}
	if !filter.IncludeArchived {
		stmt = stmt.Where("is_archived = ?", false)
	}

	var items []domain.Feature
	if err := stmt.Order("name ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]domain.Feature, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE org_id = ? AND id IN ?`,
		orgID, ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Exec(
		`UPDATE features
		 SET title = ?, metadata = ?, is_archived = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		feature.Title,
		feature.Metadata,
		feature.IsArchived,
		feature.UpdatedAt,
		feature.OrgID,
		feature.ID,
	).Error
}
