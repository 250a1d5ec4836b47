package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	"github.com/smallbiznis/entitlements/internal/productfeature/domain"
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
		log:  p.Log.Named("productfeature.service"),
		repo: p.Repo,
	}
}

// List returns the features attached to one product version with their effective config.
func (s *Service) List(ctx context.Context, productID string) ([]domain.Response, error) {
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
	return ToResponses(items)
}

func ToResponses(items []domain.FeatureAssignment) ([]domain.Response, error) {
	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		cfg, err := items[i].EffectiveConfig()
		if err != nil {
			return nil, err
		}
		resp = append(resp, domain.Response{
			FeatureID:    items[i].FeatureID,
			Name:         items[i].Name,
			Title:        items[i].Title,
			Type:         items[i].FeatureType,
			DisplayOrder: items[i].DisplayOrder,
			Config:       cfg,
			Overridden:   len(items[i].ConfigOverride) > 0 && string(items[i].ConfigOverride) != "null",
		})
	}
	return resp, nil
}
