package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/entitlement/cache"
	"github.com/smallbiznis/entitlements/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB                 *gorm.DB
	Log                *zap.Logger
	Clock              clock.Clock
	Policy             *config.EntitlementPolicyHolder
	SubscriptionRepo   subscriptiondomain.Repository
	ProductFeatureRepo productfeaturedomain.Repository
	UsageRepo          usagedomain.Repository
	Cache              *cache.Cache
	Metrics            *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db                 *gorm.DB
	log                *zap.Logger
	clock              clock.Clock
	policy             *config.EntitlementPolicyHolder
	subscriptionRepo   subscriptiondomain.Repository
	productFeatureRepo productfeaturedomain.Repository
	usageRepo          usagedomain.Repository
	cache              *cache.Cache
	metrics            *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:                 p.DB,
		log:                p.Log.Named("entitlement.service"),
		clock:              p.Clock,
		policy:             p.Policy,
		subscriptionRepo:   p.SubscriptionRepo,
		productFeatureRepo: p.ProductFeatureRepo,
		usageRepo:          p.UsageRepo,
		cache:              p.Cache,
		metrics:            p.Metrics,
	}
}

func (s *Service) ResolveEntitlements(ctx context.Context, customerID string) ([]domain.ResolvedFeature, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	cid, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || cid == 0 {
		return nil, domain.ErrInvalidCustomer
	}
	return s.cached(ctx, orgID, cid)
}

// Check returns the named feature when the customer is granted it.
func (s *Service) Check(ctx context.Context, customerID, featureName string) (*domain.ResolvedFeature, error) {
	name := strings.TrimSpace(featureName)
	if !featuredomain.ValidName(name) {
		return nil, domain.ErrInvalidFeatureName
	}
	features, err := s.ResolveEntitlements(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for i := range features {
		if features[i].Name == name && features[i].Granted() {
			return &features[i], nil
		}
	}
	return nil, domain.ErrNotEntitled
}

func (s *Service) cached(ctx context.Context, orgID, customerID snowflake.ID) ([]domain.ResolvedFeature, error) {
	if s.cache.Enabled() {
		var features []domain.ResolvedFeature
		hit, err := s.cache.Get(ctx, orgID, customerID, &features)
		switch {
		case err != nil:
			s.metrics.RecordCacheLookup(ctx, "error")
			s.log.Warn("entitlement cache read failed", zap.Error(err))
		case hit:
			s.metrics.RecordCacheLookup(ctx, "hit")
			return features, nil
		default:
			s.metrics.RecordCacheLookup(ctx, "miss")
		}
	}

	features, err := s.Resolve(ctx, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, orgID, customerID, features, s.policy.Get().CacheTTL); err != nil {
		s.log.Warn("entitlement cache write failed", zap.Error(err))
	}
	return features, nil
}

type merged struct {
	feature domain.ResolvedFeature
	cfg     featuredomain.Config
	anchor  *subscriptiondomain.Subscription
}

// Resolve merges the features of every entitled subscription, each on the
// exact version it was bought on. The most permissive grant wins.
func (s *Service) Resolve(ctx context.Context, orgID, customerID snowflake.ID) ([]domain.ResolvedFeature, error) {
	policy := s.policy.Get()
	subscriptions, err := s.subscriptionRepo.ListByCustomer(ctx, s.db, orgID, customerID,
		subscriptiondomain.EntitledStatuses(policy.PastDueEntitled))
	if err != nil {
		return nil, err
	}
	if len(subscriptions) == 0 {
		return []domain.ResolvedFeature{}, nil
	}

	productIDs := make([]snowflake.ID, 0, len(subscriptions))
	seen := make(map[snowflake.ID]struct{}, len(subscriptions))
	for _, sub := range subscriptions {
		if _, ok := seen[sub.ProductID]; ok {
			continue
		}
		seen[sub.ProductID] = struct{}{}
		productIDs = append(productIDs, sub.ProductID)
	}

	assignments, err := s.productFeatureRepo.ListByProducts(ctx, s.db, orgID, productIDs)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[snowflake.ID][]productfeaturedomain.FeatureAssignment, len(productIDs))
	for _, a := range assignments {
		byProduct[a.ProductID] = append(byProduct[a.ProductID], a)
	}

	features := make(map[snowflake.ID]*merged)
	order := make([]snowflake.ID, 0)
	for i := range subscriptions {
		sub := &subscriptions[i]
		for _, a := range byProduct[sub.ProductID] {
			cfg, err := a.EffectiveConfig()
			if err != nil {
				return nil, err
			}
			m, ok := features[a.FeatureID]
			if !ok {
				features[a.FeatureID] = &merged{
					feature: domain.ResolvedFeature{FeatureID: a.FeatureID, Name: a.Name, Title: a.Title, DisplayOrder: a.DisplayOrder},
					cfg:     cfg,
					anchor:  sub,
				}
				order = append(order, a.FeatureID)
				continue
			}
			m.cfg = featuredomain.MostPermissive(m.cfg, cfg)
			if a.DisplayOrder < m.feature.DisplayOrder {
				m.feature.DisplayOrder = a.DisplayOrder
			}
		}
	}

	now := s.clock.Now(ctx)
	records, err := s.usageRepo.ListCurrentByCustomer(ctx, s.db, orgID, customerID, now)
	if err != nil {
		return nil, err
	}
	recordByFeature := make(map[snowflake.ID]*usagedomain.UsageRecord, len(records))
	for i := range records {
		recordByFeature[records[i].FeatureID] = &records[i]
	}

	out := make([]domain.ResolvedFeature, 0, len(features))
	for _, id := range order {
		m := features[id]
		rf := domain.NewResolvedFeature(id, m.feature.Name, m.feature.Title, m.feature.DisplayOrder, m.cfg)
		if quota, ok := featuredomain.QuotaLimit(m.cfg); ok {
			start, end := usagedomain.CurrentPeriod(quota.ResetCadence, now, m.anchor.CurrentPeriodStart, m.anchor.CurrentPeriodEnd)
			snapshot := &domain.UsageSnapshot{LimitUnits: quota.Limit, PeriodStart: start, ResetsAt: end}
			if rec, ok := recordByFeature[id]; ok && rec.PeriodStart.Equal(start) {
				snapshot.ConsumedUnits = rec.ConsumedUnits
			}
			rf.Usage = snapshot
		}
		out = append(out, rf)
	}

	SortFeatures(out)
	return out, nil
}

// SortFeatures orders by display order, then case-insensitive name.
func SortFeatures(features []domain.ResolvedFeature) {
	sort.SliceStable(features, func(i, j int) bool {
		if features[i].DisplayOrder != features[j].DisplayOrder {
			return features[i].DisplayOrder < features[j].DisplayOrder
		}
		return strings.ToLower(features[i].Name) < strings.ToLower(features[j].Name)
	})
}
