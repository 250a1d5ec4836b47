package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/price/domain"
	"gorm.io/gorm"
)

const priceColumns = `id, org_id, product_id, previous_price_id, amount_type, price_amount, price_currency,
	recurring_interval, recurring_interval_count, is_archived, external_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, price *domain.Price) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO prices (`+priceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		price.ID,
		price.OrgID,
		price.ProductID,
		price.PreviousPriceID,
		price.AmountType,
		price.PriceAmount,
		price.PriceCurrency,
		price.RecurringInterval,
		price.RecurringIntervalCount,
		price.IsArchived,
		price.ExternalID,
		price.CreatedAt,
		price.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Price, error) {
	var p domain.Price
	err := db.WithContext(ctx).Raw(
		`SELECT `+priceColumns+` FROM prices WHERE org_id = ? AND id = ?`,
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

func (r *repo) ListByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]domain.Price, error) {
	var items []domain.Price
	err := db.WithContext(ctx).Raw(
		`SELECT `+priceColumns+` FROM prices
		 WHERE org_id = ? AND product_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orgID, productID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, price *domain.Price) error {
	return db.WithContext(ctx).Exec(
		`UPDATE prices
		 SET amount_type = ?, price_amount = ?, price_currency = ?, recurring_interval = ?,
		     recurring_interval_count = ?, is_archived = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		price.AmountType,
		price.PriceAmount,
		price.PriceCurrency,
		price.RecurringInterval,
		price.RecurringIntervalCount,
		price.IsArchived,
		price.UpdatedAt,
		price.OrgID,
		price.ID,
	).Error
}

func (r *repo) SetExternalID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, externalID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE prices SET external_id = ? WHERE org_id = ? AND id = ?`,
		externalID, orgID, id,
	).Error
}
