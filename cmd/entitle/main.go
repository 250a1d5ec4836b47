package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/migration"
	"github.com/smallbiznis/entitlements/internal/observability"
	"github.com/smallbiznis/entitlements/internal/redis"
	"github.com/smallbiznis/entitlements/internal/scheduler"
	"github.com/smallbiznis/entitlements/internal/server"
	"github.com/smallbiznis/entitlements/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var skipMigrations bool

var rootCmd = &cobra.Command{
	Use:     "entitle",
	Short:   "Product versioning and entitlement engine",
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []fx.Option{
			config.Module,
			observability.Module,
			fx.Provide(NewSnowflakeNode),
			db.Module,
			redis.Module,
			clock.Module,
		}
		if !skipMigrations {
			opts = append(opts, migration.Module)
		}
		opts = append(opts, server.Module, scheduler.Module)

		fx.New(opts...).Run()
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			config.Module,
			observability.Module,
			db.Module,
			migration.Module,
			fx.NopLogger,
		)
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		if err := app.Start(ctx); err != nil {
			return err
		}
		return app.Stop(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not migrate the schema on startup")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func NewSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
