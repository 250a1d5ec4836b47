package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
	"github.com/smallbiznis/entitlements/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("feature.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = keyFromTitle(title)
	}
	if !domain.ValidName(name) {
		return nil, domain.ErrInvalidName
	}
	if !req.Type.Valid() {
		return nil, domain.ErrInvalidType
	}

	cfg, err := domain.DecodeConfig(req.Type, req.Properties)
	if err != nil {
		return nil, err
	}
	properties, err := domain.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByName(ctx, s.db, orgID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateName
	}

	now := s.clock.Now(ctx)
	feature := &domain.Feature{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		Name:       name,
		Title:      title,
		Type:       req.Type,
		Properties: properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Metadata != nil {
		feature.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, s.db, feature); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}

	s.log.Info("feature created",
		zap.String("feature_id", feature.ID.String()),
		zap.String("name", feature.Name),
		zap.String("type", string(feature.Type)),
	)
	return toResponse(feature)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	feature, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return toResponse(feature)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	if req.Type != nil && !req.Type.Valid() {
		return nil, domain.ErrInvalidType
	}

	items, err := s.repo.List(ctx, s.db, orgID, req)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		r, err := toResponse(&items[i])
		if err != nil {
			return nil, err
		}
		resp = append(resp, *r)
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	feature, err := s.load(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, domain.ErrInvalidTitle
		}
		feature.Title = title
	}
	if req.Metadata != nil {
		feature.Metadata = datatypes.JSONMap(req.Metadata)
	}
	feature.UpdatedAt = s.clock.Now(ctx)

	if err := s.repo.Update(ctx, s.db, feature); err != nil {
		return nil, err
	}
	return toResponse(feature)
}

func (s *Service) Archive(ctx context.Context, id string) (*domain.Response, error) {
	feature, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if feature.IsArchived {
		return toResponse(feature)
	}

	feature.IsArchived = true
	feature.UpdatedAt = s.clock.Now(ctx)
	if err := s.repo.Update(ctx, s.db, feature); err != nil {
		return nil, err
	}
	return toResponse(feature)
}

func (s *Service) load(ctx context.Context, id string) (*domain.Feature, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	featureID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || featureID == 0 {
		return nil, domain.ErrInvalidID
	}

	feature, err := s.repo.FindByID(ctx, s.db, orgID, featureID)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, domain.ErrNotFound
	}
	return feature, nil
}

// keyFromTitle derives a machine key, e.g. "API Calls / month" -> "api_calls_month".
func keyFromTitle(title string) string {
	return strings.ReplaceAll(slug.Make(title), "-", "_")
}

func toResponse(f *domain.Feature) (*domain.Response, error) {
	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}
	return &domain.Response{
		ID:             f.ID,
		OrganizationID: f.OrgID,
		Name:           f.Name,
		Title:          f.Title,
		Type:           f.Type,
		Properties:     cfg,
		Metadata:       f.Metadata,
		IsArchived:     f.IsArchived,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}, nil
}
