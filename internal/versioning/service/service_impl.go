package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/entitlement/cache"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	"github.com/smallbiznis/entitlements/internal/pricesync"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/entitlements/internal/subscription/service"
	"github.com/smallbiznis/entitlements/internal/versioning/domain"
	"github.com/smallbiznis/entitlements/pkg/db"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB                 *gorm.DB
	Log                *zap.Logger
	GenID              *snowflake.Node
	Clock              clock.Clock
	Products           productdomain.Service
	ProductRepo        productdomain.Repository
	PriceRepo          pricedomain.Repository
	FeatureRepo        featuredomain.Repository
	ProductFeatureRepo productfeaturedomain.Repository
	SubscriptionRepo   subscriptiondomain.Repository
	Cache              *cache.Cache
	Dispatcher         *pricesync.Dispatcher
	Metrics            *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db                 *gorm.DB
	log                *zap.Logger
	genID              *snowflake.Node
	clock              clock.Clock
	products           productdomain.Service
	productRepo        productdomain.Repository
	priceRepo          pricedomain.Repository
	featureRepo        featuredomain.Repository
	productFeatureRepo productfeaturedomain.Repository
	subscriptionRepo   subscriptiondomain.Repository
	cache              *cache.Cache
	dispatcher         *pricesync.Dispatcher
	metrics            *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:                 p.DB,
		log:                p.Log.Named("versioning.service"),
		genID:              p.GenID,
		clock:              p.Clock,
		products:           p.Products,
		productRepo:        p.ProductRepo,
		priceRepo:          p.PriceRepo,
		featureRepo:        p.FeatureRepo,
		productFeatureRepo: p.ProductFeatureRepo,
		subscriptionRepo:   p.SubscriptionRepo,
		cache:              p.Cache,
		dispatcher:         p.Dispatcher,
		metrics:            p.Metrics,
	}
}

// ProposeEdit reports what ApplyEdit would do with changes.
func (s *Service) ProposeEdit(ctx context.Context, productID string, changes domain.ProductChanges) (*domain.Decision, error) {
	orgID, id, err := s.parse(ctx, productID)
	if err != nil {
		return nil, err
	}
	product, err := s.loadCurrent(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	_, decision, err := s.evaluate(ctx, s.db, product, changes)
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// ApplyEdit commits changes. Breaking changes on a version with live
// subscriptions create a new version and need req.Confirm; everything else is
// written in place.
func (s *Service) ApplyEdit(ctx context.Context, req domain.ApplyRequest) (*domain.ApplyResult, error) {
	if req.Changes.Empty() {
		return nil, domain.ErrNoChanges
	}
	orgID, id, err := s.parse(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	var (
		decision  *domain.Decision
		resultID  snowflake.ID
		events    []pricesync.PriceVersioned
		customers []snowflake.ID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.loadCurrent(ctx, tx, orgID, id)
		if err != nil {
			// A caller that pinned a version which has since been superseded
			// lost a race rather than targeting the wrong row.
			if errors.Is(err, productdomain.ErrNotCurrent) && req.ExpectedVersion != 0 && product != nil &&
				product.VersionStatus == productdomain.VersionSuperseded {
				return domain.ErrVersionConflict
			}
			return err
		}
		if req.ExpectedVersion != 0 && req.ExpectedVersion != product.Version {
			return domain.ErrVersionConflict
		}

		p, d, err := s.evaluate(ctx, tx, product, req.Changes)
		if err != nil {
			return err
		}
		decision = d
		now := s.clock.Now(ctx)

		if d.WillVersion {
			if !req.Confirm {
				return domain.ErrConfirmationRequired
			}
			next, evs, err := s.bump(ctx, tx, product, p, req.Reason, now)
			if err != nil {
				return err
			}
			resultID, events = next.ID, evs
			return nil
		}

		customers, err = s.applyInPlace(ctx, tx, p, now)
		if err != nil {
			return err
		}
		resultID = product.ID
		return nil
	})
	if err != nil {
		if errs.IsConflict(err) {
			s.metrics.RecordVersionConflict(ctx, orgID.String())
		}
		return nil, err
	}

	if decision.WillVersion {
		s.metrics.RecordVersionBump(ctx, orgID.String())
		s.dispatcher.Dispatch(events)
		s.log.Info("product versioned",
			zap.String("org_id", orgID.String()),
			zap.String("chain_root_id", decision.ChainRootID.String()),
			zap.String("previous_product_id", decision.ProductID.String()),
			zap.String("product_id", resultID.String()),
			zap.Int("version", *decision.NewVersion),
			zap.Int64("affected_subscriptions", decision.AffectedSubscriptions),
			zap.Strings("breaking_fields", decision.BreakingFields),
		)
	} else {
		s.metrics.RecordInPlaceEdit(ctx, orgID.String())
		for _, customerID := range customers {
			s.cache.Invalidate(ctx, orgID, customerID)
		}
		s.log.Info("product edited in place",
			zap.String("org_id", orgID.String()),
			zap.String("product_id", resultID.String()),
			zap.Strings("changed_fields", decision.ChangedFields),
		)
	}

	product, err := s.products.Get(ctx, resultID.String())
	if err != nil {
		return nil, err
	}
	return &domain.ApplyResult{
		Decision:  *decision,
		Versioned: decision.WillVersion,
		Product:   *product,
	}, nil
}

// ApplyEditWithRetry reapplies the same changes to the new chain head once
// when the first attempt lost a version race. Price references are carried
// over to the head's copies of the same price lines.
func (s *Service) ApplyEditWithRetry(ctx context.Context, req domain.ApplyRequest) (*domain.ApplyResult, error) {
	result, err := s.ApplyEdit(ctx, req)
	if err == nil || !errs.IsConflict(err) {
		return result, err
	}

	orgID, id, perr := s.parse(ctx, req.ProductID)
	if perr != nil {
		return nil, err
	}
	product, ferr := s.productRepo.FindByID(ctx, s.db, orgID, id)
	if ferr != nil || product == nil {
		return nil, err
	}
	head, ferr := s.productRepo.FindCurrentByChain(ctx, s.db, orgID, product.ChainRootID)
	if ferr != nil || head == nil {
		return nil, err
	}
	headPrices, ferr := s.priceRepo.ListByProduct(ctx, s.db, orgID, head.ID)
	if ferr != nil {
		return nil, err
	}

	s.log.Info("retrying product edit against chain head",
		zap.String("org_id", orgID.String()),
		zap.String("product_id", id.String()),
		zap.String("head_product_id", head.ID.String()),
		zap.Int("head_version", head.Version),
	)

	retry := req
	retry.ProductID = head.ID.String()
	retry.ExpectedVersion = head.Version
	retry.Changes.Prices = remapPriceChanges(req.Changes.Prices, headPrices)

	result, err = s.ApplyEdit(ctx, retry)
	if err != nil {
		return nil, err
	}
	result.Retried = true
	return result, nil
}

func (s *Service) parse(ctx context.Context, productID string) (snowflake.ID, snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, 0, productdomain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(productID))
	if err != nil || id == 0 {
		return 0, 0, productdomain.ErrInvalidID
	}
	return orgID, id, nil
}

// loadCurrent returns the row alongside ErrNotCurrent when it is not current.
func (s *Service) loadCurrent(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*productdomain.Product, error) {
	product, err := s.productRepo.FindByID(ctx, tx, orgID, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, productdomain.ErrNotFound
	}
	if !product.IsCurrent() {
		return product, productdomain.ErrNotCurrent
	}
	return product, nil
}

// evaluate builds the plan for changes and decides whether it needs a new
// version: only breaking changes on a version that live subscriptions bought do.
func (s *Service) evaluate(ctx context.Context, tx *gorm.DB, product *productdomain.Product, changes domain.ProductChanges) (*plan, *domain.Decision, error) {
	prices, err := s.priceRepo.ListByProduct(ctx, tx, product.OrgID, product.ID)
	if err != nil {
		return nil, nil, err
	}
	assignments, err := s.productFeatureRepo.ListByProduct(ctx, tx, product.OrgID, product.ID)
	if err != nil {
		return nil, nil, err
	}
	features, err := s.loadAdditions(ctx, tx, product.OrgID, changes.AddFeatures)
	if err != nil {
		return nil, nil, err
	}

	p, err := buildPlan(snapshot{product: *product, prices: prices, assignments: assignments}, changes, features, s.clock.Now(ctx))
	if err != nil {
		return nil, nil, err
	}

	affected, err := s.subscriptionRepo.CountByProduct(ctx, tx, product.OrgID, product.ID, subscriptiondomain.LiveStatuses)
	if err != nil {
		return nil, nil, err
	}

	decision := &domain.Decision{
		ProductID:             product.ID,
		ChainRootID:           product.ChainRootID,
		CurrentVersion:        product.Version,
		AffectedSubscriptions: affected,
		ChangedFields:         p.changed,
		BreakingFields:        p.breaking,
	}
	if len(p.breaking) > 0 && affected > 0 {
		next := product.Version + 1
		decision.WillVersion = true
		decision.NewVersion = &next
	}
	return p, decision, nil
}

func (s *Service) loadAdditions(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, additions []domain.FeatureAddition) (map[snowflake.ID]*featuredomain.Feature, error) {
	if len(additions) == 0 {
		return nil, nil
	}
	ids := make([]snowflake.ID, 0, len(additions))
	for _, addition := range additions {
		id, err := parseFeatureID(addition.FeatureID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	rows, err := s.featureRepo.ListByIDs(ctx, tx, orgID, ids)
	if err != nil {
		return nil, err
	}
	features := make(map[snowflake.ID]*featuredomain.Feature, len(rows))
	for i := range rows {
		features[rows[i].ID] = &rows[i]
	}
	return features, nil
}

// bump supersedes product and inserts version+1 with copies of its prices and
// attachments. The CAS on the old row and the partial unique index on current
// rows both surface a lost race as ErrVersionConflict.
func (s *Service) bump(ctx context.Context, tx *gorm.DB, product *productdomain.Product, p *plan, reason string, now time.Time) (*productdomain.Product, []pricesync.PriceVersioned, error) {
	newID := s.genID.Generate()

	rows, err := s.productRepo.Supersede(ctx, tx, product.OrgID, product.ID, product.Version, newID, now)
	if err != nil {
		return nil, nil, err
	}
	if rows == 0 {
		return nil, nil, domain.ErrVersionConflict
	}

	chainRoot := product.ChainRootID
	next := p.product
	next.ID = newID
	next.Version = product.Version + 1
	next.ParentProductID = &chainRoot
	next.LatestVersionID = &newID
	next.VersionStatus = productdomain.VersionCurrent
	next.VersionCreatedReason = nil
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		next.VersionCreatedReason = &trimmed
	}
	next.VersionCreatedAt = now
	next.CreatedAt = now
	next.UpdatedAt = now

	if err := s.productRepo.Insert(ctx, tx, &next); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, nil, domain.ErrVersionConflict
		}
		return nil, nil, err
	}

	interval, count := next.RecurringInterval, next.RecurringIntervalCount
	events := make([]pricesync.PriceVersioned, 0, len(p.prices))
	for i, old := range p.prices {
		previous := old.ID
		price := old
		price.ID = s.genID.Generate()
		price.ProductID = newID
		price.PreviousPriceID = &previous
		price.ExternalID = nil
		price.CreatedAt = now
		price.UpdatedAt = now
		if err := s.priceRepo.Insert(ctx, tx, &price); err != nil {
			return nil, nil, err
		}

		priceInterval, priceCount := price.EffectiveInterval(interval, count)
		events = append(events, pricesync.PriceVersioned{
			OrgID:         product.OrgID,
			ChainRootID:   chainRoot,
			ProductID:     newID,
			ProductName:   next.Name,
			OldPriceID:    previous,
			OldExternalID: old.ExternalID,
			LookupKey:     fmt.Sprintf("%s_%d", chainRoot, i),
			Interval:      priceInterval,
			Count:         priceCount,
			Price:         price,
		})
	}

	attachments := make([]productfeaturedomain.ProductFeature, 0, len(p.attachments))
	for _, row := range p.attachments {
		row.ProductID = newID
		row.CreatedAt = now
		attachments = append(attachments, row)
	}
	if err := s.productFeatureRepo.Insert(ctx, tx, attachments); err != nil {
		return nil, nil, err
	}

	if err := s.productRepo.SetLatestVersion(ctx, tx, product.OrgID, chainRoot, newID, now); err != nil {
		return nil, nil, err
	}
	return &next, events, nil
}

// applyInPlace writes p onto the current row and keeps the grants of open
// subscriptions on this version in step with attachment changes. It returns
// the customers whose resolved entitlements may have moved.
func (s *Service) applyInPlace(ctx context.Context, tx *gorm.DB, p *plan, now time.Time) ([]snowflake.ID, error) {
	product := p.product
	product.UpdatedAt = now
	rows, err := s.productRepo.UpdateCurrent(ctx, tx, &product)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, domain.ErrVersionConflict
	}

	changed := make(map[snowflake.ID]struct{}, len(p.changedPrices))
	for _, id := range p.changedPrices {
		changed[id] = struct{}{}
	}
	for i := range p.prices {
		if _, ok := changed[p.prices[i].ID]; !ok {
			continue
		}
		price := p.prices[i]
		price.UpdatedAt = now
		if err := s.priceRepo.Update(ctx, tx, &price); err != nil {
			return nil, err
		}
	}

	if !p.featuresChanged() {
		return nil, nil
	}

	if len(p.removed) > 0 {
		if err := s.productFeatureRepo.Delete(ctx, tx, product.OrgID, product.ID, p.removed); err != nil {
			return nil, err
		}
	}
	for _, row := range p.updated {
		if err := s.productFeatureRepo.Update(ctx, tx, row); err != nil {
			return nil, err
		}
	}
	if len(p.added) > 0 {
		if err := s.productFeatureRepo.Insert(ctx, tx, p.added); err != nil {
			return nil, err
		}
	}

	subscriptions, err := s.subscriptionRepo.ListByProduct(ctx, tx, product.OrgID, product.ID, subscriptiondomain.OpenStatuses)
	if err != nil {
		return nil, err
	}
	added := p.addedIDs()
	seen := make(map[snowflake.ID]struct{}, len(subscriptions))
	customers := make([]snowflake.ID, 0, len(subscriptions))
	for i := range subscriptions {
		sub := &subscriptions[i]
		if len(p.removed) > 0 {
			if err := s.subscriptionRepo.RevokeGrants(ctx, tx, sub.OrgID, sub.ID, p.removed, now); err != nil {
				return nil, err
			}
		}
		if len(added) > 0 {
			if err := s.subscriptionRepo.InsertGrants(ctx, tx, subscriptionservice.BuildGrants(s.genID, sub, added, now)); err != nil {
				return nil, err
			}
		}
		if _, ok := seen[sub.CustomerID]; !ok {
			seen[sub.CustomerID] = struct{}{}
			customers = append(customers, sub.CustomerID)
		}
	}
	return customers, nil
}

// remapPriceChanges points each change at the head's copy of the same price
// line through its previous_price_id. Ids without a copy are left as they are
// and fail validation on the retry.
func remapPriceChanges(changes []domain.PriceChange, headPrices []pricedomain.Price) []domain.PriceChange {
	if len(changes) == 0 {
		return changes
	}
	successor := make(map[snowflake.ID]snowflake.ID, len(headPrices))
	for _, price := range headPrices {
		if price.PreviousPriceID != nil {
			successor[*price.PreviousPriceID] = price.ID
		}
	}

	out := make([]domain.PriceChange, len(changes))
	for i, change := range changes {
		out[i] = change
		id, err := snowflake.ParseString(strings.TrimSpace(change.PriceID))
		if err != nil {
			continue
		}
		if next, ok := successor[id]; ok {
			out[i].PriceID = next.String()
		}
	}
	return out
}
