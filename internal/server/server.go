package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
	"github.com/smallbiznis/entitlements/internal/feature"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	obslogger "github.com/smallbiznis/entitlements/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	obstracing "github.com/smallbiznis/entitlements/internal/observability/tracing"
	"github.com/smallbiznis/entitlements/internal/price"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	"github.com/smallbiznis/entitlements/internal/pricesync"
	"github.com/smallbiznis/entitlements/internal/product"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	"github.com/smallbiznis/entitlements/internal/productfeature"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	"github.com/smallbiznis/entitlements/internal/ratelimit"
	"github.com/smallbiznis/entitlements/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/internal/usage"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"github.com/smallbiznis/entitlements/internal/versioning"
	versioningdomain "github.com/smallbiznis/entitlements/internal/versioning/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	feature.Module,
	price.Module,
	product.Module,
	productfeature.Module,
	subscription.Module,
	usage.Module,
	entitlement.Module,
	versioning.Module,
	pricesync.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the observability middleware chain.
func NewEngine(httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine            *gin.Engine
	featureSvc        featuredomain.Service
	priceSvc          pricedomain.Service
	productSvc        productdomain.Service
	productFeatureSvc productfeaturedomain.Service
	subscriptionSvc   subscriptiondomain.Service
	usageSvc          usagedomain.Service
	entitlementSvc    entitlementdomain.Service
	versioningSvc     versioningdomain.Service
	obsMetrics        *obsmetrics.Metrics
	usageLimiter      *ratelimit.UsageLimiter
}

type Params struct {
	fx.In

	Gin               *gin.Engine
	FeatureSvc        featuredomain.Service
	PriceSvc          pricedomain.Service
	ProductSvc        productdomain.Service
	ProductFeatureSvc productfeaturedomain.Service
	SubscriptionSvc   subscriptiondomain.Service
	UsageSvc          usagedomain.Service
	EntitlementSvc    entitlementdomain.Service
	VersioningSvc     versioningdomain.Service
	ObsMetrics        *obsmetrics.Metrics     `optional:"true"`
	UsageLimiter      *ratelimit.UsageLimiter `optional:"true"`
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:            p.Gin,
		featureSvc:        p.FeatureSvc,
		priceSvc:          p.PriceSvc,
		productSvc:        p.ProductSvc,
		productFeatureSvc: p.ProductFeatureSvc,
		subscriptionSvc:   p.SubscriptionSvc,
		usageSvc:          p.UsageSvc,
		entitlementSvc:    p.EntitlementSvc,
		versioningSvc:     p.VersioningSvc,
		obsMetrics:        p.ObsMetrics,
		usageLimiter:      p.UsageLimiter,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(OrgContext())

	// -------- Features --------
	api.GET("/features", s.ListFeatures)
	api.POST("/features", s.CreateFeature)
	api.GET("/features/:id", s.GetFeatureByID)
	api.PATCH("/features/:id", s.UpdateFeature)
	api.POST("/features/:id/archive", s.ArchiveFeature)

	// -------- Products --------
	api.GET("/products", s.ListProducts)
	api.POST("/products", s.CreateProduct)
	api.GET("/products/:id", s.GetProductByID)
	api.GET("/products/:id/versions", s.ListProductVersions)
	api.POST("/products/:id/deprecate", s.DeprecateProduct)
	api.GET("/products/:id/prices", s.ListProductPrices)
	api.GET("/products/:id/features", s.ListProductFeatures)

	// Edits go through the version chain.
	api.POST("/products/:id/edits/propose", s.ProposeProductEdit)
	api.POST("/products/:id/edits", s.ApplyProductEdit)

	// -------- Prices --------
	api.GET("/prices/:id", s.GetPriceByID)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/transition", s.TransitionSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/renew", s.RenewSubscription)
	api.POST("/subscriptions/:id/migrate", s.MigrateSubscription)

	// -------- Customers --------
	api.GET("/customers/:id/subscriptions", s.ListCustomerSubscriptions)
	api.GET("/customers/:id/entitlements", s.ResolveEntitlements)
	api.GET("/customers/:id/entitlements/:feature", s.CheckEntitlement)

	// -------- Usage --------
	api.POST("/usage", s.UsageRateLimit(), s.RecordUsage)
	api.GET("/usage/at-risk", s.ListAtRiskCustomers)
	api.GET("/usage/by-feature", s.UsageByFeature)
}
