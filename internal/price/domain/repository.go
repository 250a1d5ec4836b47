package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, price *Price) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Price, error)
	ListByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]Price, error)
	Update(ctx context.Context, db *gorm.DB, price *Price) error
	SetExternalID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, externalID string) error
}
