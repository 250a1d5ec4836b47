package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(FeatureTypeUsageQuota, []byte(`{"limit":1000,"reset_cadence":"month"}`))
	require.NoError(t, err)
	assert.Equal(t, UsageQuotaConfig{Limit: 1000, ResetCadence: ResetMonthly}, cfg)

	cfg, err = DecodeConfig(FeatureTypeBooleanFlag, nil)
	require.NoError(t, err)
	assert.Equal(t, BooleanFlagConfig{Enabled: true}, cfg)

	cfg, err = DecodeConfig(FeatureTypeNumericLimit, []byte(`{"max":5}`))
	require.NoError(t, err)
	assert.Equal(t, NumericLimitConfig{Max: 5}, cfg)
}

func TestDecodeConfigRejectsMismatchedProperties(t *testing.T) {
	_, err := DecodeConfig(FeatureTypeNumericLimit, []byte(`{"limit":10}`))
	assert.True(t, errors.Is(err, ErrInvalidProperties))

	_, err = DecodeConfig(FeatureTypeUsageQuota, []byte(`{"limit":-1,"reset_cadence":"month"}`))
	assert.True(t, errors.Is(err, ErrInvalidProperties))

	_, err = DecodeConfig(FeatureTypeUsageQuota, []byte(`{"limit":10,"reset_cadence":"fortnight"}`))
	assert.True(t, errors.Is(err, ErrInvalidProperties))

	_, err = DecodeConfig(FeatureType("tiered"), nil)
	assert.True(t, errors.Is(err, ErrInvalidType))
}

func TestMostPermissive(t *testing.T) {
	assert.Equal(t,
		UsageQuotaConfig{Limit: 250, ResetCadence: ResetMonthly},
		MostPermissive(UsageQuotaConfig{Limit: 100, ResetCadence: ResetMonthly}, UsageQuotaConfig{Limit: 250, ResetCadence: ResetMonthly}),
	)
	assert.Equal(t,
		UsageQuotaConfig{Limit: 250, ResetCadence: ResetMonthly},
		MostPermissive(UsageQuotaConfig{Limit: 250, ResetCadence: ResetMonthly}, UsageQuotaConfig{Limit: 100, ResetCadence: ResetMonthly}),
	)
	assert.Equal(t, BooleanFlagConfig{Enabled: true}, MostPermissive(BooleanFlagConfig{}, BooleanFlagConfig{Enabled: true}))
	assert.Equal(t, BooleanFlagConfig{Enabled: false}, MostPermissive(BooleanFlagConfig{}, BooleanFlagConfig{}))
	assert.Equal(t, NumericLimitConfig{Max: 10}, MostPermissive(NumericLimitConfig{Max: 10}, NumericLimitConfig{Max: 3}))
	assert.Equal(t, NumericLimitConfig{Max: 3}, MostPermissive(nil, NumericLimitConfig{Max: 3}))
}

func TestCompare(t *testing.T) {
	quota := UsageQuotaConfig{Limit: 100, ResetCadence: ResetMonthly}

	assert.Equal(t, DeltaNone, Compare(quota, quota))
	assert.Equal(t, DeltaExpands, Compare(quota, UsageQuotaConfig{Limit: 200, ResetCadence: ResetMonthly}))
	assert.Equal(t, DeltaRestricts, Compare(quota, UsageQuotaConfig{Limit: 50, ResetCadence: ResetMonthly}))
	assert.Equal(t, DeltaRestricts, Compare(quota, UsageQuotaConfig{Limit: 100, ResetCadence: ResetDaily}))
	assert.Equal(t, DeltaRestricts, Compare(quota, NumericLimitConfig{Max: 100}))

	assert.Equal(t, DeltaRestricts, Compare(BooleanFlagConfig{Enabled: true}, BooleanFlagConfig{}))
	assert.Equal(t, DeltaExpands, Compare(BooleanFlagConfig{}, BooleanFlagConfig{Enabled: true}))
	assert.Equal(t, DeltaExpands, Compare(NumericLimitConfig{Max: 1}, NumericLimitConfig{Max: 2}))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("api_calls"))
	assert.True(t, ValidName("seats2"))
	assert.False(t, ValidName("API_calls"))
	assert.False(t, ValidName("api-calls"))
	assert.False(t, ValidName(""))
}
