package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	"github.com/smallbiznis/entitlements/internal/price/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("price.service"),
		repo: p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	priceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || priceID == 0 {
		return nil, domain.ErrInvalidID
	}

	price, err := s.repo.FindByID(ctx, s.db, orgID, priceID)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, domain.ErrNotFound
	}
	resp := domain.ToResponse(price)
	return &resp, nil
}

func (s *Service) ListByProduct(ctx context.Context, productID string) ([]domain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	pid, err := snowflake.ParseString(strings.TrimSpace(productID))
	if err != nil || pid == 0 {
		return nil, domain.ErrInvalidProductID
	}

	items, err := s.repo.ListByProduct(ctx, s.db, orgID, pid)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, domain.ToResponse(&items[i]))
	}
	return resp, nil
}
