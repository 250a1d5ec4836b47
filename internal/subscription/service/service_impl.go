package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/entitlement/cache"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB                 *gorm.DB
	Log                *zap.Logger
	GenID              *snowflake.Node
	Clock              clock.Clock
	Repo               subscriptiondomain.Repository
	ProductRepo        productdomain.Repository
	PriceRepo          pricedomain.Repository
	ProductFeatureRepo productfeaturedomain.Repository
	Cache              *cache.Cache
}

type Service struct {
	db                 *gorm.DB
	log                *zap.Logger
	genID              *snowflake.Node
	clock              clock.Clock
	repo               subscriptiondomain.Repository
	productRepo        productdomain.Repository
	priceRepo          pricedomain.Repository
	productFeatureRepo productfeaturedomain.Repository
	cache              *cache.Cache
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:                 p.DB,
		log:                p.Log.Named("subscription.service"),
		genID:              p.GenID,
		clock:              p.Clock,
		repo:               p.Repo,
		productRepo:        p.ProductRepo,
		priceRepo:          p.PriceRepo,
		productFeatureRepo: p.ProductFeatureRepo,
		cache:              p.Cache,
	}
}

// Create subscribes a customer to the current version of a product through
// one of its prices and grants every attached feature.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	customerID, err := parseID(req.CustomerID, subscriptiondomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	priceID, err := parseID(req.PriceID, subscriptiondomain.ErrInvalidPrice)
	if err != nil {
		return nil, err
	}

	var subscription *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		price, product, err := s.loadPriceAndProduct(ctx, tx, orgID, priceID, nil)
		if err != nil {
			return err
		}
		if !product.IsCurrent() {
			return subscriptiondomain.ErrProductNotCurrent
		}
		if product.IsArchived {
			return subscriptiondomain.ErrProductArchived
		}

		status, err := initialStatus(req.Status, product.TrialDays)
		if err != nil {
			return err
		}

		now := s.clock.Now(ctx)
		start := now
		if req.PeriodStart != nil {
			start = req.PeriodStart.UTC()
		}
		var end time.Time
		if status == subscriptiondomain.SubscriptionStatusTrialing {
			end = start.AddDate(0, 0, product.TrialDays)
		} else {
			interval, count := price.EffectiveInterval(product.RecurringInterval, product.RecurringIntervalCount)
			end = interval.Advance(start, count)
		}

		subscription = &subscriptiondomain.Subscription{
			ID:                 s.genID.Generate(),
			OrgID:              orgID,
			CustomerID:         customerID,
			ProductID:          product.ID,
			PriceID:            price.ID,
			Status:             status,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   end,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, subscription); err != nil {
			return err
		}
		return s.grantProductFeatures(ctx, tx, subscription, now)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, orgID, customerID)
	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("product_id", subscription.ProductID.String()),
		zap.String("status", string(subscription.Status)),
	)
	resp := toResponse(subscription)
	return &resp, nil
}

func initialStatus(requested subscriptiondomain.SubscriptionStatus, trialDays int) (subscriptiondomain.SubscriptionStatus, error) {
	switch requested {
	case "":
		if trialDays > 0 {
			return subscriptiondomain.SubscriptionStatusTrialing, nil
		}
		return subscriptiondomain.SubscriptionStatusActive, nil
	case subscriptiondomain.SubscriptionStatusTrialing:
		if trialDays <= 0 {
			return "", subscriptiondomain.ErrInvalidTrial
		}
		return requested, nil
	case subscriptiondomain.SubscriptionStatusActive, subscriptiondomain.SubscriptionStatusIncomplete:
		return requested, nil
	default:
		return "", subscriptiondomain.ErrInvalidStatus
	}
}

func (s *Service) Get(ctx context.Context, id string) (*subscriptiondomain.Response, error) {
	subscription, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	resp := toResponse(subscription)
	return &resp, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]subscriptiondomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	cid, err := parseID(customerID, subscriptiondomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListByCustomer(ctx, s.db, orgID, cid, nil)
	if err != nil {
		return nil, err
	}
	resp := make([]subscriptiondomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

// Transition moves a subscription along the lifecycle table. Reaching a
// terminal state ends the subscription and revokes its grants.
func (s *Service) Transition(ctx context.Context, id string, target subscriptiondomain.SubscriptionStatus) (*subscriptiondomain.Response, error) {
	if !target.Valid() {
		return nil, subscriptiondomain.ErrInvalidTargetStatus
	}

	var subscription *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		subscription, err = s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription.Status == target {
			return nil
		}
		if !subscriptiondomain.CanTransition(subscription.Status, target) {
			return subscriptiondomain.ErrInvalidTransition
		}

		now := s.clock.Now(ctx)
		from := subscription.Status
		if target == subscriptiondomain.SubscriptionStatusCanceled {
			subscription.CanceledAt = &now
		}
		if target.Terminal() {
			subscription.EndedAt = &now
		}
		subscription.Status = target
		subscription.UpdatedAt = now

		affected, err := s.repo.UpdateLifecycle(ctx, tx, subscription, from)
		if err != nil {
			return err
		}
		if affected == 0 {
			return subscriptiondomain.ErrConcurrentUpdate
		}
		if target.Terminal() {
			return s.repo.RevokeGrants(ctx, tx, subscription.OrgID, subscription.ID, nil, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, subscription.OrgID, subscription.CustomerID)
	s.log.Info("subscription transitioned",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("status", string(subscription.Status)),
	)
	resp := toResponse(subscription)
	return &resp, nil
}

func (s *Service) CancelAtPeriodEnd(ctx context.Context, id string) (*subscriptiondomain.Response, error) {
	subscription, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription.Status.Terminal() {
		return nil, subscriptiondomain.ErrTerminal
	}
	if subscription.CancelAtPeriodEnd {
		resp := toResponse(subscription)
		return &resp, nil
	}

	subscription.CancelAtPeriodEnd = true
	subscription.UpdatedAt = s.clock.Now(ctx)
	affected, err := s.repo.UpdateLifecycle(ctx, s.db, subscription, subscription.Status)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, subscriptiondomain.ErrConcurrentUpdate
	}
	resp := toResponse(subscription)
	return &resp, nil
}

// Renew rolls a subscription whose period has ended into the period that
// contains now. A finished trial becomes active. The version binding never
// changes here.
func (s *Service) Renew(ctx context.Context, id string) (*subscriptiondomain.Response, error) {
	var subscription *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		subscription, err = s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case subscription.Status.Terminal():
			return subscriptiondomain.ErrTerminal
		case subscription.CancelAtPeriodEnd:
			return subscriptiondomain.ErrRenewalCanceled
		}
		switch subscription.Status {
		case subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusTrialing,
			subscriptiondomain.SubscriptionStatusPastDue:
		default:
			return subscriptiondomain.ErrNotRenewable
		}

		now := s.clock.Now(ctx)
		if now.Before(subscription.CurrentPeriodEnd) {
			return subscriptiondomain.ErrPeriodNotEnded
		}

		price, err := s.priceRepo.FindByID(ctx, tx, subscription.OrgID, subscription.PriceID)
		if err != nil {
			return err
		}
		if price == nil {
			return subscriptiondomain.ErrPriceNotFound
		}
		product, err := s.productRepo.FindByID(ctx, tx, subscription.OrgID, subscription.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return subscriptiondomain.ErrProductNotFound
		}

		from, fromEnd := subscription.Status, subscription.CurrentPeriodEnd
		interval, count := price.EffectiveInterval(product.RecurringInterval, product.RecurringIntervalCount)
		start := fromEnd.UTC()
		end := interval.Advance(start, count)
		for !end.After(now) {
			start, end = end, interval.Advance(end, count)
		}
		if subscription.Status == subscriptiondomain.SubscriptionStatusTrialing {
			subscription.Status = subscriptiondomain.SubscriptionStatusActive
		}
		subscription.CurrentPeriodStart = start
		subscription.CurrentPeriodEnd = end
		subscription.UpdatedAt = now

		affected, err := s.repo.UpdatePeriod(ctx, tx, subscription, from, fromEnd)
		if err != nil {
			return err
		}
		if affected == 0 {
			return subscriptiondomain.ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, subscription.OrgID, subscription.CustomerID)
	s.log.Info("subscription renewed",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("status", string(subscription.Status)),
		zap.Time("period_end", subscription.CurrentPeriodEnd),
	)
	resp := toResponse(subscription)
	return &resp, nil
}

// MigrateToVersion rebinds a subscription to another version of the same
// chain. It is the only way a subscription changes product_id.
func (s *Service) MigrateToVersion(ctx context.Context, req subscriptiondomain.MigrateRequest) (*subscriptiondomain.Response, error) {
	productID, err := parseID(req.ProductID, subscriptiondomain.ErrInvalidProduct)
	if err != nil {
		return nil, err
	}
	priceID, err := parseID(req.PriceID, subscriptiondomain.ErrInvalidPrice)
	if err != nil {
		return nil, err
	}

	var (
		subscription *subscriptiondomain.Subscription
		fromProduct  snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		subscription, err = s.load(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription.Status.Terminal() {
			return subscriptiondomain.ErrTerminal
		}
		if subscription.ProductID == productID {
			return subscriptiondomain.ErrSameVersion
		}

		current, err := s.productRepo.FindByID(ctx, tx, subscription.OrgID, subscription.ProductID)
		if err != nil {
			return err
		}
		if current == nil {
			return subscriptiondomain.ErrProductNotFound
		}

		price, target, err := s.loadPriceAndProduct(ctx, tx, subscription.OrgID, priceID, &productID)
		if err != nil {
			return err
		}
		if target.ChainRootID != current.ChainRootID {
			return subscriptiondomain.ErrOtherChain
		}
		if target.VersionStatus == productdomain.VersionDeprecated {
			return subscriptiondomain.ErrProductDeprecated
		}

		now := s.clock.Now(ctx)
		fromProduct = subscription.ProductID
		subscription.ProductID = target.ID
		subscription.PriceID = price.ID
		subscription.UpdatedAt = now

		affected, err := s.repo.UpdateBinding(ctx, tx, subscription, fromProduct)
		if err != nil {
			return err
		}
		if affected == 0 {
			return subscriptiondomain.ErrConcurrentUpdate
		}
		if err := s.repo.RevokeGrants(ctx, tx, subscription.OrgID, subscription.ID, nil, now); err != nil {
			return err
		}
		return s.grantProductFeatures(ctx, tx, subscription, now)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, subscription.OrgID, subscription.CustomerID)
	s.log.Info("subscription migrated",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("from_product_id", fromProduct.String()),
		zap.String("to_product_id", subscription.ProductID.String()),
	)
	resp := toResponse(subscription)
	return &resp, nil
}

// grantProductFeatures materializes grants for the features attached to the
// subscription's version.
func (s *Service) grantProductFeatures(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, now time.Time) error {
	assignments, err := s.productFeatureRepo.ListByProduct(ctx, tx, subscription.OrgID, subscription.ProductID)
	if err != nil {
		return err
	}
	featureIDs := make([]snowflake.ID, 0, len(assignments))
	for _, a := range assignments {
		featureIDs = append(featureIDs, a.FeatureID)
	}
	return s.repo.InsertGrants(ctx, tx, BuildGrants(s.genID, subscription, featureIDs, now))
}

// BuildGrants creates one grant per feature for the subscription's version.
func BuildGrants(genID *snowflake.Node, subscription *subscriptiondomain.Subscription, featureIDs []snowflake.ID, now time.Time) []subscriptiondomain.FeatureGrant {
	grants := make([]subscriptiondomain.FeatureGrant, 0, len(featureIDs))
	for _, featureID := range featureIDs {
		grants = append(grants, subscriptiondomain.FeatureGrant{
			ID:             genID.Generate(),
			OrgID:          subscription.OrgID,
			CustomerID:     subscription.CustomerID,
			FeatureID:      featureID,
			SubscriptionID: subscription.ID,
			ProductID:      subscription.ProductID,
			GrantedAt:      now,
		})
	}
	return grants
}

// loadPriceAndProduct loads a price and its product version. When
// productID is given the price must belong to it.
func (s *Service) loadPriceAndProduct(ctx context.Context, tx *gorm.DB, orgID, priceID snowflake.ID, productID *snowflake.ID) (*pricedomain.Price, *productdomain.Product, error) {
	price, err := s.priceRepo.FindByID(ctx, tx, orgID, priceID)
	if err != nil {
		return nil, nil, err
	}
	if price == nil {
		return nil, nil, subscriptiondomain.ErrPriceNotFound
	}
	if price.IsArchived {
		return nil, nil, subscriptiondomain.ErrPriceArchived
	}
	if productID != nil && price.ProductID != *productID {
		return nil, nil, subscriptiondomain.ErrPriceNotInProduct
	}

	product, err := s.productRepo.FindByID(ctx, tx, orgID, price.ProductID)
	if err != nil {
		return nil, nil, err
	}
	if product == nil {
		return nil, nil, subscriptiondomain.ErrProductNotFound
	}
	return price, product, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id string) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	subscriptionID, err := parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}

	subscription, err := s.repo.FindByID(ctx, db, orgID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	return subscription, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func toResponse(s *subscriptiondomain.Subscription) subscriptiondomain.Response {
	return subscriptiondomain.Response{
		ID:                 s.ID,
		OrganizationID:     s.OrgID,
		CustomerID:         s.CustomerID,
		ProductID:          s.ProductID,
		PriceID:            s.PriceID,
		Status:             s.Status,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         s.CanceledAt,
		EndedAt:            s.EndedAt,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}
