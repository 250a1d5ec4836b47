package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models is every table the engine owns, in dependency order.
func Models() []any {
	return []any{
		&featuredomain.Feature{},
		&productdomain.Product{},
		&pricedomain.Price{},
		&productfeaturedomain.ProductFeature{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.FeatureGrant{},
		&usagedomain.UsageRecord{},
	}
}

// RunMigrations brings the schema up to date. Postgres is migrated from the
// embedded SQL files; other dialects are derived from the models.
func RunMigrations(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
