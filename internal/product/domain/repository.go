package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, product *Product) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Product, error)
	FindCurrentByChain(ctx context.Context, db *gorm.DB, orgID, chainRootID snowflake.ID) (*Product, error)
	ListByChain(ctx context.Context, db *gorm.DB, orgID, chainRootID snowflake.ID) ([]Product, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter) ([]Product, error)

	// UpdateCurrent rewrites the mutable fields of a current row whose version is
	// still product.Version. It reports rows affected; zero means the row moved on.
	UpdateCurrent(ctx context.Context, db *gorm.DB, product *Product) (int64, error)
	// Supersede flips a current row at expectedVersion to superseded.
	Supersede(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, expectedVersion int, latestID snowflake.ID, now time.Time) (int64, error)
	SetLatestVersion(ctx context.Context, db *gorm.DB, orgID, chainRootID, latestID snowflake.ID, now time.Time) error
	Deprecate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (int64, error)
}

type ListFilter struct {
	CurrentOnly     bool
	IncludeArchived bool
	Cursor          *pagination.Cursor
	Limit           int
}
