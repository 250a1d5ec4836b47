package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

type Service interface {
	RecordUsage(ctx context.Context, req RecordRequest) (*Response, error)
	ListAtRisk(ctx context.Context, thresholdPercent float64) ([]AtRiskCustomer, error)
	UsageByFeature(ctx context.Context) ([]FeatureUsage, error)
}

type RecordRequest struct {
	CustomerID string `json:"customer_id"`
	FeatureID  string `json:"feature_id"`
	Units      int64  `json:"units"`
}

type Response struct {
	ID             snowflake.ID `json:"id"`
	CustomerID     snowflake.ID `json:"customer_id"`
	FeatureID      snowflake.ID `json:"feature_id"`
	ConsumedUnits  int64        `json:"consumed_units"`
	LimitUnits     int64        `json:"limit_units"`
	OverLimit      bool         `json:"over_limit"`
	PeriodStart    time.Time    `json:"period_start"`
	PeriodEnd      time.Time    `json:"period_end"`
	PercentageUsed float64      `json:"percentage_used"`
}

type AtRiskCustomer struct {
	CustomerID     snowflake.ID `json:"customer_id"`
	FeatureID      snowflake.ID `json:"feature_id"`
	FeatureKey     string       `json:"feature_key"`
	ConsumedUnits  int64        `json:"consumed_units"`
	LimitUnits     int64        `json:"limit_units"`
	PercentageUsed float64      `json:"percentage_used"`
	ResetsAt       time.Time    `json:"resets_at"`
}

type FeatureUsage struct {
	FeatureID     snowflake.ID `json:"feature_id"`
	FeatureKey    string       `json:"feature_key"`
	ConsumedUnits int64        `json:"consumed_units"`
	Customers     int64        `json:"customers"`
}

var (
	ErrInvalidOrganization = errs.Validation("invalid_organization", "organization is required")
	ErrInvalidCustomer     = errs.Validation("invalid_customer_id", "invalid customer id")
	ErrInvalidFeature      = errs.Validation("invalid_feature_id", "invalid feature id")
	ErrInvalidUnits        = errs.Validation("invalid_units", "units must not be negative")
	ErrNotQuotaFeature     = errs.Validation("invalid_feature_type", "usage can only be recorded against usage_quota features")
	ErrFeatureNotFound     = errs.NotFound("feature_not_found", "feature not found")
	ErrNotEntitled         = errs.NotEntitled("not_entitled", "customer has no active grant for this feature")
)
