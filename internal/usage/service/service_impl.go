package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/entitlement/cache"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Policy           *config.EntitlementPolicyHolder
	Repo             usagedomain.Repository
	FeatureRepo      featuredomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Resolver         entitlementdomain.Resolver
	Cache            *cache.Cache
	ObsMetrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	policy           *config.EntitlementPolicyHolder
	repo             usagedomain.Repository
	featureRepo      featuredomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	resolver         entitlementdomain.Resolver
	cache            *cache.Cache
	obsMetrics       *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("usage.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		policy:           p.Policy,
		repo:             p.Repo,
		featureRepo:      p.FeatureRepo,
		subscriptionRepo: p.SubscriptionRepo,
		resolver:         p.Resolver,
		cache:            p.Cache,
		obsMetrics:       p.ObsMetrics,
	}
}

// RecordUsage adds units to the customer's counter for the feature's current
// period. Going over the limit is recorded, never rejected.
func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, usagedomain.ErrInvalidOrganization
	}
	customerID, err := parseID(req.CustomerID, usagedomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	featureID, err := parseID(req.FeatureID, usagedomain.ErrInvalidFeature)
	if err != nil {
		return nil, err
	}
	if req.Units < 0 {
		return nil, usagedomain.ErrInvalidUnits
	}

	feature, err := s.featureRepo.FindByID(ctx, s.db, orgID, featureID)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, usagedomain.ErrFeatureNotFound
	}
	if feature.Type != featuredomain.FeatureTypeUsageQuota {
		return nil, usagedomain.ErrNotQuotaFeature
	}

	policy := s.policy.Get()
	grant, err := s.subscriptionRepo.FindEntitledGrant(ctx, s.db, orgID, customerID, featureID,
		subscriptiondomain.EntitledStatuses(policy.PastDueEntitled))
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, usagedomain.ErrNotEntitled
	}

	resolved, err := s.resolveQuota(ctx, orgID, customerID, featureID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now(ctx)
	record, err := s.repo.Increment(ctx, s.db, &usagedomain.UsageRecord{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		CustomerID:    customerID,
		FeatureID:     featureID,
		PeriodStart:   resolved.Usage.PeriodStart,
		PeriodEnd:     resolved.Usage.ResetsAt,
		ConsumedUnits: req.Units,
		LimitUnits:    resolved.Usage.LimitUnits,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, orgID, customerID)
	s.obsMetrics.RecordUsageUnits(ctx, orgID.String(), feature.Name, req.Units)

	resp := toResponse(record)
	if resp.OverLimit {
		s.log.Info("usage over limit",
			zap.String("customer_id", customerID.String()),
			zap.String("feature", feature.Name),
			zap.Int64("consumed_units", record.ConsumedUnits),
			zap.Int64("limit_units", record.LimitUnits),
		)
	}
	return &resp, nil
}

// resolveQuota returns the merged quota of the feature with its current period.
func (s *Service) resolveQuota(ctx context.Context, orgID, customerID, featureID snowflake.ID) (*entitlementdomain.ResolvedFeature, error) {
	features, err := s.resolver.Resolve(ctx, orgID, customerID)
	if err != nil {
		return nil, err
	}
	for i := range features {
		if features[i].FeatureID == featureID && features[i].Usage != nil {
			return &features[i], nil
		}
	}
	return nil, usagedomain.ErrNotEntitled
}

// ListAtRisk reports customers whose current-period consumption reached
// thresholdPercent of their limit. A threshold <= 0 uses the configured default.
func (s *Service) ListAtRisk(ctx context.Context, thresholdPercent float64) ([]usagedomain.AtRiskCustomer, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, usagedomain.ErrInvalidOrganization
	}
	if thresholdPercent <= 0 {
		thresholdPercent = s.policy.Get().AtRiskThreshold
	}

	rows, err := s.repo.ListCurrentAtRisk(ctx, s.db, orgID, s.clock.Now(ctx))
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordAtRiskScan(ctx, orgID.String())

	out := make([]usagedomain.AtRiskCustomer, 0)
	for i := range rows {
		row := &rows[i]
		if !row.Reaches(thresholdPercent) {
			continue
		}
		out = append(out, usagedomain.AtRiskCustomer{
			CustomerID:     row.CustomerID,
			FeatureID:      row.FeatureID,
			FeatureKey:     row.FeatureKey,
			ConsumedUnits:  row.ConsumedUnits,
			LimitUnits:     row.LimitUnits,
			PercentageUsed: row.PercentageUsed(),
			ResetsAt:       row.PeriodEnd,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PercentageUsed != out[j].PercentageUsed {
			return out[i].PercentageUsed > out[j].PercentageUsed
		}
		if out[i].CustomerID != out[j].CustomerID {
			return out[i].CustomerID < out[j].CustomerID
		}
		return out[i].FeatureKey < out[j].FeatureKey
	})
	return out, nil
}

func (s *Service) UsageByFeature(ctx context.Context) ([]usagedomain.FeatureUsage, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, usagedomain.ErrInvalidOrganization
	}
	totals, err := s.repo.SumCurrentByFeature(ctx, s.db, orgID, s.clock.Now(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]usagedomain.FeatureUsage, 0, len(totals))
	for _, t := range totals {
		out = append(out, usagedomain.FeatureUsage{
			FeatureID:     t.FeatureID,
			FeatureKey:    t.FeatureKey,
			ConsumedUnits: t.ConsumedUnits,
			Customers:     t.Customers,
		})
	}
	return out, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func toResponse(r *usagedomain.UsageRecord) usagedomain.Response {
	return usagedomain.Response{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		FeatureID:      r.FeatureID,
		ConsumedUnits:  r.ConsumedUnits,
		LimitUnits:     r.LimitUnits,
		OverLimit:      r.ConsumedUnits > r.LimitUnits,
		PeriodStart:    r.PeriodStart,
		PeriodEnd:      r.PeriodEnd,
		PercentageUsed: r.PercentageUsed(),
	}
}
