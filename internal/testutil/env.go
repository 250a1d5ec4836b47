// Package testutil wires the services against an in-memory database for tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/entitlement/cache"
	entitlementservice "github.com/smallbiznis/entitlements/internal/entitlement/service"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	featurerepository "github.com/smallbiznis/entitlements/internal/feature/repository"
	featureservice "github.com/smallbiznis/entitlements/internal/feature/service"
	"github.com/smallbiznis/entitlements/internal/migration"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	pricerepository "github.com/smallbiznis/entitlements/internal/price/repository"
	"github.com/smallbiznis/entitlements/internal/pricesync"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	productrepository "github.com/smallbiznis/entitlements/internal/product/repository"
	productservice "github.com/smallbiznis/entitlements/internal/product/service"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	productfeaturerepository "github.com/smallbiznis/entitlements/internal/productfeature/repository"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/entitlements/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/entitlements/internal/subscription/service"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	usagerepository "github.com/smallbiznis/entitlements/internal/usage/repository"
	usageservice "github.com/smallbiznis/entitlements/internal/usage/service"
	versioningdomain "github.com/smallbiznis/entitlements/internal/versioning/domain"
	versioningservice "github.com/smallbiznis/entitlements/internal/versioning/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the fake clock's starting point in every Env.
var Epoch = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// Node returns a process-wide snowflake node so ids never collide across tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
		node = n
	})
	return node
}

// OpenDB opens a private in-memory database with every table migrated.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Each connection to :memory: is its own database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.RunMigrations(db))
	return db
}

// NewRedis starts a miniredis server and returns a client for it.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

type options struct {
	redis    bool
	policy   config.EntitlementPolicy
	notifier pricesync.Notifier
}

type Option func(*options)

// WithRedis backs the entitlement cache with miniredis.
func WithRedis() Option {
	return func(o *options) { o.redis = true }
}

func WithPolicy(policy config.EntitlementPolicy) Option {
	return func(o *options) { o.policy = policy }
}

func WithNotifier(n pricesync.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// Env is a fully wired set of services scoped to one organization.
type Env struct {
	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  *clock.FakeClock
	Policy *config.EntitlementPolicyHolder
	Cache  *cache.Cache
	Redis  *miniredis.Miniredis

	OrgID snowflake.ID
	Ctx   context.Context

	ProductRepo        productdomain.Repository
	PriceRepo          pricedomain.Repository
	FeatureRepo        featuredomain.Repository
	ProductFeatureRepo productfeaturedomain.Repository
	SubscriptionRepo   subscriptiondomain.Repository
	UsageRepo          usagedomain.Repository

	Features      featuredomain.Service
	Products      productdomain.Service
	Subscriptions subscriptiondomain.Service
	Entitlements  *entitlementservice.Service
	Usage         usagedomain.Service
	Versioning    versioningdomain.Service
	Dispatcher    *pricesync.Dispatcher
}

func NewEnv(t testing.TB, opts ...Option) *Env {
	t.Helper()
	o := options{policy: config.DefaultEntitlementPolicy(), notifier: pricesync.NoopNotifier{}}
	for _, opt := range opts {
		opt(&o)
	}

	env := &Env{
		DB:                 OpenDB(t),
		Log:                zap.NewNop(),
		GenID:              Node(t),
		Clock:              clock.NewFakeClock(Epoch),
		Policy:             config.NewStaticPolicyHolder(o.policy),
		ProductRepo:        productrepository.Provide(),
		PriceRepo:          pricerepository.Provide(),
		FeatureRepo:        featurerepository.Provide(),
		ProductFeatureRepo: productfeaturerepository.Provide(),
		SubscriptionRepo:   subscriptionrepository.Provide(),
		UsageRepo:          usagerepository.Provide(),
	}
	env.OrgID = env.GenID.Generate()
	env.Ctx = orgcontext.WithOrgID(context.Background(), env.OrgID)

	var client *goredis.Client
	if o.redis {
		env.Redis, client = NewRedis(t)
	}
	env.Cache = cache.New(client, env.Log)

	env.Features = featureservice.New(featureservice.Params{
		DB: env.DB, Log: env.Log, GenID: env.GenID, Clock: env.Clock, Repo: env.FeatureRepo,
	})
	env.Products = productservice.New(productservice.Params{
		DB: env.DB, Log: env.Log, GenID: env.GenID, Clock: env.Clock,
		Repo: env.ProductRepo, PriceRepo: env.PriceRepo, FeatureRepo: env.FeatureRepo,
		ProductFeatureRepo: env.ProductFeatureRepo,
	})
	env.Subscriptions = subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: env.DB, Log: env.Log, GenID: env.GenID, Clock: env.Clock,
		Repo: env.SubscriptionRepo, ProductRepo: env.ProductRepo, PriceRepo: env.PriceRepo,
		ProductFeatureRepo: env.ProductFeatureRepo, Cache: env.Cache,
	})
	env.Entitlements = entitlementservice.New(entitlementservice.Params{
		DB: env.DB, Log: env.Log, Clock: env.Clock, Policy: env.Policy,
		SubscriptionRepo: env.SubscriptionRepo, ProductFeatureRepo: env.ProductFeatureRepo,
		UsageRepo: env.UsageRepo, Cache: env.Cache,
	})
	env.Usage = usageservice.NewService(usageservice.ServiceParam{
		DB: env.DB, Log: env.Log, GenID: env.GenID, Clock: env.Clock, Policy: env.Policy,
		Repo: env.UsageRepo, FeatureRepo: env.FeatureRepo, SubscriptionRepo: env.SubscriptionRepo,
		Resolver: env.Entitlements, Cache: env.Cache,
	})
	env.Dispatcher = pricesync.NewDispatcher(pricesync.Params{
		DB: env.DB, Log: env.Log, Notifier: o.notifier, PriceRepo: env.PriceRepo,
	})
	env.Versioning = versioningservice.New(versioningservice.Params{
		DB: env.DB, Log: env.Log, GenID: env.GenID, Clock: env.Clock,
		Products: env.Products, ProductRepo: env.ProductRepo, PriceRepo: env.PriceRepo,
		FeatureRepo: env.FeatureRepo, ProductFeatureRepo: env.ProductFeatureRepo,
		SubscriptionRepo: env.SubscriptionRepo, Cache: env.Cache, Dispatcher: env.Dispatcher,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.Dispatcher.Wait(ctx)
	})
	return env
}

// Quota creates a usage_quota feature.
func (e *Env) Quota(t testing.TB, name string, limit int64, cadence featuredomain.ResetCadence) *featuredomain.Response {
	t.Helper()
	return e.Feature(t, name, featuredomain.FeatureTypeUsageQuota, featuredomain.UsageQuotaConfig{Limit: limit, ResetCadence: cadence})
}

// Flag creates a boolean_flag feature.
func (e *Env) Flag(t testing.TB, name string, enabled bool) *featuredomain.Response {
	t.Helper()
	return e.Feature(t, name, featuredomain.FeatureTypeBooleanFlag, featuredomain.BooleanFlagConfig{Enabled: enabled})
}

func (e *Env) Feature(t testing.TB, name string, typ featuredomain.FeatureType, props featuredomain.Config) *featuredomain.Response {
	t.Helper()
	raw, err := json.Marshal(props)
	require.NoError(t, err)
	resp, err := e.Features.Create(e.Ctx, featuredomain.CreateRequest{
		Name:       name,
		Title:      name,
		Type:       typ,
		Properties: raw,
	})
	require.NoError(t, err)
	return resp
}

// Attach builds a FeatureInput with an optional override.
func Attach(feature *featuredomain.Response, order int, override featuredomain.Config) productdomain.FeatureInput {
	in := productdomain.FeatureInput{FeatureID: feature.ID.String(), DisplayOrder: order}
	if override != nil {
		raw, err := json.Marshal(override)
		if err != nil {
			panic(err)
		}
		in.ConfigOverride = raw
	}
	return in
}

// Product creates a monthly product with one fixed usd price.
func (e *Env) Product(t testing.TB, name string, amount int64, features ...productdomain.FeatureInput) *productdomain.Response {
	t.Helper()
	resp, err := e.Products.Create(e.Ctx, productdomain.CreateRequest{
		Name:              name,
		RecurringInterval: pricedomain.Month,
		Prices: []productdomain.PriceInput{{
			AmountType:    pricedomain.AmountFixed,
			PriceAmount:   &amount,
			PriceCurrency: "usd",
		}},
		Features: features,
	})
	require.NoError(t, err)
	require.Len(t, resp.Prices, 1)
	return resp
}

// Subscribe puts customerID on the first price of product.
func (e *Env) Subscribe(t testing.TB, customerID snowflake.ID, product *productdomain.Response) *subscriptiondomain.Response {
	t.Helper()
	resp, err := e.Subscriptions.Create(e.Ctx, subscriptiondomain.CreateRequest{
		CustomerID: customerID.String(),
		PriceID:    product.Prices[0].ID.String(),
	})
	require.NoError(t, err)
	return resp
}

// SetStatus forces a subscription status, bypassing the transition table.
func (e *Env) SetStatus(t testing.TB, id snowflake.ID, status subscriptiondomain.SubscriptionStatus) {
	t.Helper()
	require.NoError(t, e.DB.Exec("UPDATE subscriptions SET status = ? WHERE id = ?", status, id).Error)
}

// CountCurrent counts current rows of a chain.
func (e *Env) CountCurrent(t testing.TB, chainRootID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.DB.Raw(
		"SELECT COUNT(*) FROM products WHERE chain_root_id = ? AND version_status = ?",
		chainRootID, productdomain.VersionCurrent,
	).Scan(&n).Error)
	return n
}

func Ptr[T any](v T) *T { return &v }
