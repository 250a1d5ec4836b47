package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

type Service interface {
	List(ctx context.Context, productID string) ([]Response, error)
}

type Response struct {
	FeatureID    snowflake.ID              `json:"feature_id"`
	Name         string                    `json:"name"`
	Title        string                    `json:"title"`
	Type         featuredomain.FeatureType `json:"type"`
	DisplayOrder int                       `json:"display_order"`
	Config       featuredomain.Config      `json:"config"`
	Overridden   bool                      `json:"overridden"`
}

var (
	ErrInvalidOrganization = errs.Validation("invalid_organization", "organization is required")
	ErrInvalidProductID    = errs.Validation("invalid_product_id", "invalid product id")
	ErrInvalidOverride     = errs.Validation("invalid_config_override", "config override does not match the feature type")
	ErrFeatureArchived     = errs.Validation("feature_archived", "archived features cannot be attached")
)
