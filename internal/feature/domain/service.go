package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Archive(ctx context.Context, id string) (*Response, error)
}

type ListRequest struct {
	Type            *FeatureType
	IncludeArchived bool
}

type CreateRequest struct {
	Name       string          `json:"name"`
	Title      string          `json:"title"`
	Type       FeatureType     `json:"type"`
	Properties json.RawMessage `json:"properties"`
	Metadata   map[string]any  `json:"metadata"`
}

// UpdateRequest only touches display fields. Properties of an attached feature
// change through per-product overrides so existing grants keep their terms.
type UpdateRequest struct {
	ID       string         `json:"id"`
	Title    *string        `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Response struct {
	ID             snowflake.ID   `json:"id"`
	OrganizationID snowflake.ID   `json:"organization_id"`
	Name           string         `json:"name"`
	Title          string         `json:"title"`
	Type           FeatureType    `json:"type"`
	Properties     Config         `json:"properties"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IsArchived     bool           `json:"is_archived"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

var (
	ErrInvalidOrganization = errs.Validation("invalid_organization", "organization is required")
	ErrInvalidID           = errs.Validation("invalid_id", "invalid feature id")
	ErrInvalidName         = errs.Validation("invalid_name", "name must match ^[a-z0-9_]+$")
	ErrInvalidTitle        = errs.Validation("invalid_title", "title is required")
	ErrInvalidType         = errs.Validation("invalid_type", "unknown feature type")
	ErrInvalidProperties   = errs.Validation("invalid_properties", "properties do not match the feature type")
	ErrDuplicateName       = errs.Validation("duplicate_name", "a feature with this name already exists")
	ErrArchived            = errs.InvalidState("feature_archived", "feature is archived")
	ErrNotFound            = errs.NotFound("feature_not_found", "feature not found")
)
