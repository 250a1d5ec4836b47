package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

type Service interface {
	// ResolveEntitlements lists the customer's features, empty when the
	// customer has no entitled subscription.
	ResolveEntitlements(ctx context.Context, customerID string) ([]ResolvedFeature, error)
	Check(ctx context.Context, customerID, featureName string) (*ResolvedFeature, error)
}

// Resolver computes entitlements from storage, bypassing any cache.
type Resolver interface {
	Resolve(ctx context.Context, orgID, customerID snowflake.ID) ([]ResolvedFeature, error)
}

var (
	ErrInvalidOrganization = errs.Validation("invalid_organization", "organization is required")
	ErrInvalidCustomer     = errs.Validation("invalid_customer_id", "invalid customer id")
	ErrInvalidFeatureName  = errs.Validation("invalid_feature_name", "invalid feature name")
	ErrNotEntitled         = errs.NotEntitled("not_entitled", "customer is not entitled to this feature")
)
