package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/internal/testutil"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, env *testutil.Env, customer, feature string, units int64) *usagedomain.Response {
	t.Helper()
	resp, err := env.Usage.RecordUsage(env.Ctx, usagedomain.RecordRequest{
		CustomerID: customer,
		FeatureID:  feature,
		Units:      units,
	})
	require.NoError(t, err)
	return resp
}

func TestRecordUsageRequiresGrant(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 100, featuredomain.ResetMonthly)
	env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))

	_, err := env.Usage.RecordUsage(env.Ctx, usagedomain.RecordRequest{
		CustomerID: env.GenID.Generate().String(),
		FeatureID:  calls.ID.String(),
		Units:      1,
	})
	require.ErrorIs(t, err, usagedomain.ErrNotEntitled)
	assert.Equal(t, errs.KindNotEntitled, errs.KindOf(err))
}

func TestRecordUsageValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 100, featuredomain.ResetMonthly)
	sso := env.Flag(t, "sso", true)
	customer := env.GenID.Generate().String()

	cases := []struct {
		name string
		req  usagedomain.RecordRequest
		want error
	}{
		{"negative units", usagedomain.RecordRequest{CustomerID: customer, FeatureID: calls.ID.String(), Units: -1}, usagedomain.ErrInvalidUnits},
		{"bad customer", usagedomain.RecordRequest{CustomerID: "nope", FeatureID: calls.ID.String(), Units: 1}, usagedomain.ErrInvalidCustomer},
		{"bad feature", usagedomain.RecordRequest{CustomerID: customer, FeatureID: "", Units: 1}, usagedomain.ErrInvalidFeature},
		{"unknown feature", usagedomain.RecordRequest{CustomerID: customer, FeatureID: env.GenID.Generate().String(), Units: 1}, usagedomain.ErrFeatureNotFound},
		{"not a quota", usagedomain.RecordRequest{CustomerID: customer, FeatureID: sso.ID.String(), Units: 1}, usagedomain.ErrNotQuotaFeature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Usage.RecordUsage(env.Ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRecordUsageAccumulatesPastLimit(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 10, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))
	customer := env.GenID.Generate()
	env.Subscribe(t, customer, product)

	first := record(t, env, customer.String(), calls.ID.String(), 8)
	assert.EqualValues(t, 8, first.ConsumedUnits)
	assert.False(t, first.OverLimit)

	second := record(t, env, customer.String(), calls.ID.String(), 5)
	assert.EqualValues(t, 13, second.ConsumedUnits)
	assert.EqualValues(t, 10, second.LimitUnits)
	assert.True(t, second.OverLimit)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), second.PeriodStart)

	// Zero units is a valid no-op.
	third := record(t, env, customer.String(), calls.ID.String(), 0)
	assert.EqualValues(t, 13, third.ConsumedUnits)

	features, err := env.Entitlements.ResolveEntitlements(env.Ctx, customer.String())
	require.NoError(t, err)
	require.Len(t, features, 1)
	require.NotNil(t, features[0].Usage)
	assert.EqualValues(t, 13, features[0].Usage.ConsumedUnits)
}

func TestRecordUsageConcurrentIncrements(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 1000, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))
	customer := env.GenID.Generate()
	env.Subscribe(t, customer, product)

	const workers = 20
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Usage.RecordUsage(env.Ctx, usagedomain.RecordRequest{
				CustomerID: customer.String(),
				FeatureID:  calls.ID.String(),
				Units:      3,
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	last := record(t, env, customer.String(), calls.ID.String(), 0)
	assert.EqualValues(t, workers*3, last.ConsumedUnits)
}

func TestRecordUsageAfterSubscriptionEnds(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 10, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))
	customer := env.GenID.Generate()
	sub := env.Subscribe(t, customer, product)

	_, err := env.Subscriptions.Transition(env.Ctx, sub.ID.String(), subscriptiondomain.SubscriptionStatusCanceled)
	require.NoError(t, err)

	_, err = env.Usage.RecordUsage(env.Ctx, usagedomain.RecordRequest{
		CustomerID: customer.String(),
		FeatureID:  calls.ID.String(),
		Units:      1,
	})
	require.ErrorIs(t, err, usagedomain.ErrNotEntitled)
}

func TestRecordUsageResetsWithPeriod(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 10, featuredomain.ResetDaily)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))
	customer := env.GenID.Generate()
	env.Subscribe(t, customer, product)

	record(t, env, customer.String(), calls.ID.String(), 7)
	env.Clock.Advance(24 * time.Hour)

	features, err := env.Entitlements.ResolveEntitlements(env.Ctx, customer.String())
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Zero(t, features[0].Usage.ConsumedUnits)

	next := record(t, env, customer.String(), calls.ID.String(), 2)
	assert.EqualValues(t, 2, next.ConsumedUnits)
}

func TestListAtRisk(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 100, featuredomain.ResetMonthly)
	exports := env.Quota(t, "exports", 0, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil), testutil.Attach(exports, 1, nil))

	heavy := env.GenID.Generate()
	edge := env.GenID.Generate()
	light := env.GenID.Generate()
	env.Subscribe(t, heavy, product)
	env.Subscribe(t, edge, product)
	env.Subscribe(t, light, product)

	record(t, env, heavy.String(), calls.ID.String(), 95)
	record(t, env, edge.String(), calls.ID.String(), 80)
	record(t, env, light.String(), calls.ID.String(), 50)
	// A zero limit is never at risk, however much was used.
	record(t, env, light.String(), exports.ID.String(), 40)

	atRisk, err := env.Usage.ListAtRisk(env.Ctx, 0)
	require.NoError(t, err)
	require.Len(t, atRisk, 2)
	assert.Equal(t, heavy, atRisk[0].CustomerID)
	assert.Equal(t, 95.0, atRisk[0].PercentageUsed)
	assert.Equal(t, edge, atRisk[1].CustomerID)
	assert.Equal(t, "api_calls", atRisk[1].FeatureKey)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), atRisk[1].ResetsAt)

	wider, err := env.Usage.ListAtRisk(env.Ctx, 40)
	require.NoError(t, err)
	require.Len(t, wider, 3)
	assert.Equal(t, light, wider[2].CustomerID)

	totals, err := env.Usage.UsageByFeature(env.Ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "api_calls", totals[0].FeatureKey)
	assert.EqualValues(t, 225, totals[0].ConsumedUnits)
	assert.EqualValues(t, 3, totals[0].Customers)
	assert.Equal(t, "exports", totals[1].FeatureKey)
}

func TestListAtRiskEmpty(t *testing.T) {
	env := testutil.NewEnv(t)
	atRisk, err := env.Usage.ListAtRisk(env.Ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, atRisk)
	assert.Empty(t, atRisk)
}

func TestListAtRiskThresholdBoundaries(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 100, featuredomain.ResetMonthly)
	seats := env.Quota(t, "seats", 1000, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil), testutil.Attach(seats, 1, nil))

	below := env.GenID.Generate()
	above := env.GenID.Generate()
	exact := env.GenID.Generate()
	big := env.GenID.Generate()
	for _, c := range []snowflake.ID{below, above, exact, big} {
		env.Subscribe(t, c, product)
	}
	record(t, env, below.String(), calls.ID.String(), 79)
	record(t, env, above.String(), calls.ID.String(), 81)
	record(t, env, exact.String(), calls.ID.String(), 29)
	record(t, env, big.String(), seats.ID.String(), 850)

	atRisk, err := env.Usage.ListAtRisk(env.Ctx, 80)
	require.NoError(t, err)
	require.Len(t, atRisk, 2)
	assert.Equal(t, big, atRisk[0].CustomerID)
	assert.Equal(t, 85.0, atRisk[0].PercentageUsed)
	assert.Equal(t, "seats", atRisk[0].FeatureKey)
	assert.Equal(t, above, atRisk[1].CustomerID)
	assert.Equal(t, 81.0, atRisk[1].PercentageUsed)

	// 29 of 100 sits exactly on a 29% threshold
	atThreshold, err := env.Usage.ListAtRisk(env.Ctx, 29)
	require.NoError(t, err)
	require.Len(t, atThreshold, 4)
	assert.Equal(t, exact, atThreshold[3].CustomerID)
	assert.Equal(t, 29.0, atThreshold[3].PercentageUsed)
}
