package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

type Service interface {
	// ProposeEdit classifies changes against the current version without writing anything.
	ProposeEdit(ctx context.Context, productID string, changes ProductChanges) (*Decision, error)
	ApplyEdit(ctx context.Context, req ApplyRequest) (*ApplyResult, error)
	// ApplyEditWithRetry retries once against the new chain head on a version conflict.
	ApplyEditWithRetry(ctx context.Context, req ApplyRequest) (*ApplyResult, error)
}

// Decision says whether an edit can be made in place or needs a new version.
type Decision struct {
	ProductID             snowflake.ID `json:"product_id"`
	ChainRootID           snowflake.ID `json:"chain_root_id"`
	WillVersion           bool         `json:"will_version"`
	CurrentVersion        int          `json:"current_version"`
	NewVersion            *int         `json:"new_version,omitempty"`
	AffectedSubscriptions int64        `json:"affected_subscriptions"`
	ChangedFields         []string     `json:"changed_fields"`
	BreakingFields        []string     `json:"breaking_fields"`
}

type ApplyRequest struct {
	ProductID string `json:"-"`
	// ExpectedVersion guards against editing a version that moved on; 0 skips the check.
	ExpectedVersion int            `json:"expected_version"`
	Changes         ProductChanges `json:"changes"`
	Reason          string         `json:"reason"`
	Confirm         bool           `json:"confirm"`
}

type ApplyResult struct {
	Decision  Decision               `json:"decision"`
	Versioned bool                   `json:"versioned"`
	Retried   bool                   `json:"retried"`
	Product   productdomain.Response `json:"product"`
}

var (
	ErrNoChanges              = errs.Validation("no_changes", "changes are empty")
	ErrConfirmationRequired   = errs.Validation("confirmation_required", "this edit creates a new product version; resend with confirm=true")
	ErrInvalidPriceID         = errs.Validation("invalid_price_id", "invalid price id")
	ErrPriceNotInProduct      = errs.Validation("invalid_price_id", "price does not belong to this product version")
	ErrDuplicatePriceChange   = errs.Validation("duplicate_price_change", "a price can be changed once per edit")
	ErrInvalidFeatureID       = errs.Validation("invalid_feature_id", "invalid feature id")
	ErrFeatureAlreadyAttached = errs.Validation("feature_already_attached", "feature is already attached to this version")
	ErrFeatureNotAttached     = errs.Validation("feature_not_attached", "feature is not attached to this version")
	ErrDuplicateFeatureChange = errs.Validation("duplicate_feature_change", "a feature can appear once per edit")
	ErrFeatureNotFound        = errs.NotFound("feature_not_found", "feature not found")
	ErrVersionConflict        = errs.Conflict("version_conflict", "product version changed concurrently")
)
