package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	"github.com/smallbiznis/entitlements/internal/product/domain"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	productfeatureservice "github.com/smallbiznis/entitlements/internal/productfeature/service"
	"github.com/smallbiznis/entitlements/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB                 *gorm.DB
	Log                *zap.Logger
	GenID              *snowflake.Node
	Clock              clock.Clock
	Repo               domain.Repository
	PriceRepo          pricedomain.Repository
	FeatureRepo        featuredomain.Repository
	ProductFeatureRepo productfeaturedomain.Repository
}

type Service struct {
	db                 *gorm.DB
	log                *zap.Logger
	genID              *snowflake.Node
	clock              clock.Clock
	repo               domain.Repository
	priceRepo          pricedomain.Repository
	featureRepo        featuredomain.Repository
	productFeatureRepo productfeaturedomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:                 p.DB,
		log:                p.Log.Named("product.service"),
		genID:              p.GenID,
		clock:              p.Clock,
		repo:               p.Repo,
		priceRepo:          p.PriceRepo,
		featureRepo:        p.FeatureRepo,
		productFeatureRepo: p.ProductFeatureRepo,
	}
}

// Create stores version 1 of a new chain together with its prices and features.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	now := s.clock.Now(ctx)
	id := s.genID.Generate()
	count := req.RecurringIntervalCount
	if count == 0 {
		count = 1
	}
	product := &domain.Product{
		ID:                     id,
		OrgID:                  orgID,
		ChainRootID:            id,
		Name:                   strings.TrimSpace(req.Name),
		Description:            trimmedOrNil(req.Description),
		RecurringInterval:      req.RecurringInterval,
		RecurringIntervalCount: count,
		TrialDays:              req.TrialDays,
		Version:                1,
		LatestVersionID:        &id,
		VersionStatus:          domain.VersionCurrent,
		VersionCreatedAt:       now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if req.Metadata != nil {
		product.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}

	prices := make([]pricedomain.Price, 0, len(req.Prices))
	for _, in := range req.Prices {
		price := pricedomain.Price{
			ID:                     s.genID.Generate(),
			OrgID:                  orgID,
			ProductID:              id,
			AmountType:             in.AmountType,
			PriceAmount:            in.PriceAmount,
			PriceCurrency:          strings.ToLower(strings.TrimSpace(in.PriceCurrency)),
			RecurringInterval:      in.RecurringInterval,
			RecurringIntervalCount: in.RecurringIntervalCount,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := price.Validate(); err != nil {
			return nil, err
		}
		prices = append(prices, price)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attachments, err := s.buildAttachments(ctx, tx, orgID, id, req.Features)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, product); err != nil {
			return err
		}
		for i := range prices {
			if err := s.priceRepo.Insert(ctx, tx, &prices[i]); err != nil {
				return err
			}
		}
		return s.productFeatureRepo.Insert(ctx, tx, attachments)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("product created",
		zap.String("product_id", product.ID.String()),
		zap.Int("prices", len(prices)),
		zap.Int("features", len(req.Features)),
	)
	return s.detail(ctx, product)
}

func (s *Service) buildAttachments(ctx context.Context, tx *gorm.DB, orgID, productID snowflake.ID, inputs []domain.FeatureInput) ([]productfeaturedomain.ProductFeature, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	ids := make([]snowflake.ID, 0, len(inputs))
	seen := make(map[snowflake.ID]struct{}, len(inputs))
	for _, in := range inputs {
		fid, err := snowflake.ParseString(strings.TrimSpace(in.FeatureID))
		if err != nil || fid == 0 {
			return nil, domain.ErrInvalidFeatureID
		}
		if _, dup := seen[fid]; dup {
			return nil, domain.ErrDuplicateFeature
		}
		seen[fid] = struct{}{}
		ids = append(ids, fid)
	}

	features, err := s.featureRepo.ListByIDs(ctx, tx, orgID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*featuredomain.Feature, len(features))
	for i := range features {
		byID[features[i].ID] = &features[i]
	}

	now := s.clock.Now(ctx)
	out := make([]productfeaturedomain.ProductFeature, 0, len(inputs))
	for i, in := range inputs {
		feature, ok := byID[ids[i]]
		if !ok {
			return nil, domain.ErrFeatureNotFound
		}
		pf, err := productfeaturedomain.NewAttachment(feature, productID, in.DisplayOrder, in.ConfigOverride, now)
		if err != nil {
			return nil, err
		}
		out = append(out, pf)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	product, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, product)
}

// List pages through products. Only current versions are listed unless
// superseded ones are asked for.
func (s *Service) List(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, orgID, domain.ListFilter{
		CurrentOnly:     !req.IncludeSuperseded,
		IncludeArchived: req.IncludeArchived,
		Cursor:          cursor,
		Limit:           limit + 1,
	})
	if err != nil {
		return nil, err
	}

	items, pageInfo, err := pagination.Page(items, limit, func(p domain.Product) pagination.Cursor {
		return pagination.Cursor{ID: p.ID.Int64(), CreatedAt: p.CreatedAt}
	})
	if err != nil {
		return nil, err
	}

	resp := &domain.ListResponse{Products: make([]domain.Response, 0, len(items)), PageInfo: pageInfo}
	for i := range items {
		resp.Products = append(resp.Products, toResponse(&items[i]))
	}
	return resp, nil
}

// ListVersions returns every version of the chain id belongs to, oldest first.
func (s *Service) ListVersions(ctx context.Context, id string) ([]domain.Response, error) {
	product, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByChain(ctx, s.db, product.OrgID, product.ChainRootID)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

// Deprecate retires a version for good. Existing subscriptions keep resolving
// against it; no new subscription or edit can target it.
func (s *Service) Deprecate(ctx context.Context, id string) (*domain.Response, error) {
	product, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.VersionStatus == domain.VersionDeprecated {
		return nil, domain.ErrAlreadyDeprecated
	}

	now := s.clock.Now(ctx)
	affected, err := s.repo.Deprecate(ctx, s.db, product.OrgID, product.ID, now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrAlreadyDeprecated
	}
	product.VersionStatus = domain.VersionDeprecated
	product.UpdatedAt = now

	s.log.Info("product version deprecated",
		zap.String("product_id", product.ID.String()),
		zap.String("chain_root_id", product.ChainRootID.String()),
		zap.Int("version", product.Version),
	)
	return s.detail(ctx, product)
}

func (s *Service) load(ctx context.Context, id string) (*domain.Product, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	productID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || productID == 0 {
		return nil, domain.ErrInvalidID
	}

	product, err := s.repo.FindByID(ctx, s.db, orgID, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrNotFound
	}
	return product, nil
}

func (s *Service) detail(ctx context.Context, product *domain.Product) (*domain.Response, error) {
	resp := toResponse(product)

	prices, err := s.priceRepo.ListByProduct(ctx, s.db, product.OrgID, product.ID)
	if err != nil {
		return nil, err
	}
	resp.Prices = make([]pricedomain.Response, 0, len(prices))
	for i := range prices {
		resp.Prices = append(resp.Prices, pricedomain.ToResponse(&prices[i]))
	}

	assignments, err := s.productFeatureRepo.ListByProduct(ctx, s.db, product.OrgID, product.ID)
	if err != nil {
		return nil, err
	}
	resp.Features, err = productfeatureservice.ToResponses(assignments)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func toResponse(p *domain.Product) domain.Response {
	return domain.Response{
		ID:                     p.ID,
		OrganizationID:         p.OrgID,
		ChainRootID:            p.ChainRootID,
		Name:                   p.Name,
		Description:            p.Description,
		RecurringInterval:      p.RecurringInterval,
		RecurringIntervalCount: p.RecurringIntervalCount,
		TrialDays:              p.TrialDays,
		Metadata:               p.Metadata,
		IsArchived:             p.IsArchived,
		Version:                p.Version,
		ParentProductID:        p.ParentProductID,
		LatestVersionID:        p.LatestVersionID,
		VersionStatus:          p.VersionStatus,
		VersionCreatedReason:   p.VersionCreatedReason,
		VersionCreatedAt:       p.VersionCreatedAt,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
