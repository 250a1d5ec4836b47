package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/product/domain"
	"gorm.io/gorm"
)

const productColumns = `id, org_id, chain_root_id, name, description, recurring_interval, recurring_interval_count,
	trial_days, metadata, is_archived, version, parent_product_id, latest_version_id, version_status,
	version_created_reason, version_created_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.OrgID,
		p.ChainRootID,
		p.Name,
		p.Description,
		p.RecurringInterval,
		p.RecurringIntervalCount,
		p.TrialDays,
		p.Metadata,
		p.IsArchived,
		p.Version,
		p.ParentProductID,
		p.LatestVersionID,
		p.VersionStatus,
		p.VersionCreatedReason,
		p.VersionCreatedAt,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT `+productColumns+` FROM products WHERE org_id = ? AND id = ?`,
		orgID, id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindCurrentByChain(ctx context.Context, db *gorm.DB, orgID, chainRootID snowflake.ID) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT `+productColumns+` FROM products
		 WHERE org_id = ? AND chain_root_id = ? AND version_status = ?`,
		orgID, chainRootID, domain.VersionCurrent,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ListByChain(ctx context.Context, db *gorm.DB, orgID, chainRootID snowflake.ID) ([]domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT `+productColumns+` FROM products
		 WHERE org_id = ? AND chain_root_id = ?
		 ORDER BY version ASC`,
		orgID, chainRootID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListFilter) ([]domain.Product, error) {
	stmt := db.WithContext(ctx).Model(&domain.Product{}).Where("org_id = ?", orgID)
	if filter.CurrentOnly {
		stmt = stmt.Where("version_status = ?", domain.VersionCurrent)
	}
	if !filter.IncludeArchived {
		stmt = stmt.Where("is_archived = ?", false)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at > ? OR (created_at = ? AND id > ?))",
			filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var items []domain.Product
	if err := stmt.Order("created_at ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateCurrent(ctx context.Context, db *gorm.DB, p *domain.Product) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE products
		    SET name = ?, description = ?, recurring_interval = ?, recurring_interval_count = ?,
		        trial_days = ?, metadata = ?, is_archived = ?, updated_at = ?
		  WHERE org_id = ? AND id = ? AND version_status = ? AND version = ?`,
		p.Name,
		p.Description,
		p.RecurringInterval,
		p.RecurringIntervalCount,
		p.TrialDays,
		p.Metadata,
		p.IsArchived,
		p.UpdatedAt,
		p.OrgID,
		p.ID,
		domain.VersionCurrent,
		p.Version,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Supersede(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, expectedVersion int, latestID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE products
		    SET version_status = ?, latest_version_id = ?, updated_at = ?
		  WHERE org_id = ? AND id = ? AND version_status = ? AND version = ?`,
		domain.VersionSuperseded,
		latestID,
		now,
		orgID,
		id,
		domain.VersionCurrent,
		expectedVersion,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) SetLatestVersion(ctx context.Context, db *gorm.DB, orgID, chainRootID, latestID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE products SET latest_version_id = ?, updated_at = ?
		  WHERE org_id = ? AND chain_root_id = ?`,
		latestID, now, orgID, chainRootID,
	).Error
}

func (r *repo) Deprecate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE products SET version_status = ?, updated_at = ?
		  WHERE org_id = ? AND id = ? AND version_status <> ?`,
		domain.VersionDeprecated, now, orgID, id, domain.VersionDeprecated,
	)
	return res.RowsAffected, res.Error
}
