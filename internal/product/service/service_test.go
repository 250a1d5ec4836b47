package service_test

import (
	"encoding/json"
	"testing"

	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	productfeaturedomain "github.com/smallbiznis/entitlements/internal/productfeature/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/internal/testutil"
	"github.com/smallbiznis/entitlements/pkg/db/pagination"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(amount int64, currency string) productdomain.PriceInput {
	return productdomain.PriceInput{AmountType: pricedomain.AmountFixed, PriceAmount: &amount, PriceCurrency: currency}
}

func TestCreateStartsChain(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 100, featuredomain.ResetMonthly)
	sso := env.Flag(t, "sso", true)

	desc := "  For growing teams  "
	resp, err := env.Products.Create(env.Ctx, productdomain.CreateRequest{
		Name:              " Growth ",
		Description:       &desc,
		RecurringInterval: pricedomain.Month,
		Metadata:          map[string]any{"tier": "growth"},
		Prices: []productdomain.PriceInput{
			fixed(4900, "USD"),
			{AmountType: pricedomain.AmountFree, PriceCurrency: "eur"},
		},
		Features: []productdomain.FeatureInput{
			testutil.Attach(sso, 1, nil),
			testutil.Attach(calls, 0, featuredomain.UsageQuotaConfig{Limit: 250, ResetCadence: featuredomain.ResetDaily}),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Growth", resp.Name)
	require.NotNil(t, resp.Description)
	assert.Equal(t, "For growing teams", *resp.Description)
	assert.Equal(t, 1, resp.Version)
	assert.Equal(t, resp.ID, resp.ChainRootID)
	assert.Equal(t, 1, resp.RecurringIntervalCount)
	assert.Equal(t, productdomain.VersionCurrent, resp.VersionStatus)
	assert.Nil(t, resp.ParentProductID)
	require.NotNil(t, resp.LatestVersionID)
	assert.Equal(t, resp.ID, *resp.LatestVersionID)

	require.Len(t, resp.Prices, 2)
	assert.Equal(t, "usd", resp.Prices[0].PriceCurrency)
	assert.Nil(t, resp.Prices[1].PriceAmount)

	require.Len(t, resp.Features, 2)
	assert.Equal(t, "api_calls", resp.Features[0].Name)
	assert.True(t, resp.Features[0].Overridden)
	assert.Equal(t, featuredomain.UsageQuotaConfig{Limit: 250, ResetCadence: featuredomain.ResetDaily}, resp.Features[0].Config)
	assert.False(t, resp.Features[1].Overridden)
}

func TestCreateValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	sso := env.Flag(t, "sso", true)
	archived := env.Flag(t, "legacy", true)
	_, err := env.Features.Archive(env.Ctx, archived.ID.String())
	require.NoError(t, err)

	base := func() productdomain.CreateRequest {
		return productdomain.CreateRequest{
			Name:              "Pro",
			RecurringInterval: pricedomain.Month,
			Prices:            []productdomain.PriceInput{fixed(1000, "usd")},
		}
	}

	cases := []struct {
		name   string
		mutate func(*productdomain.CreateRequest)
		want   error
	}{
		{"blank name", func(r *productdomain.CreateRequest) { r.Name = " " }, productdomain.ErrInvalidName},
		{"bad interval", func(r *productdomain.CreateRequest) { r.RecurringInterval = "fortnight" }, productdomain.ErrInvalidInterval},
		{"negative trial", func(r *productdomain.CreateRequest) { r.TrialDays = -1 }, productdomain.ErrInvalidTrialDays},
		{"zero amount", func(r *productdomain.CreateRequest) { r.Prices = []productdomain.PriceInput{fixed(0, "usd")} }, pricedomain.ErrInvalidAmount},
		{"unknown currency", func(r *productdomain.CreateRequest) { r.Prices = []productdomain.PriceInput{fixed(100, "zzz")} }, pricedomain.ErrInvalidCurrency},
		{"free with amount", func(r *productdomain.CreateRequest) {
			amount := int64(5)
			r.Prices = []productdomain.PriceInput{{AmountType: pricedomain.AmountFree, PriceAmount: &amount, PriceCurrency: "usd"}}
		}, pricedomain.ErrAmountOnFreePrice},
		{"duplicate feature", func(r *productdomain.CreateRequest) {
			r.Features = []productdomain.FeatureInput{testutil.Attach(sso, 0, nil), testutil.Attach(sso, 1, nil)}
		}, productdomain.ErrDuplicateFeature},
		{"unknown feature", func(r *productdomain.CreateRequest) {
			r.Features = []productdomain.FeatureInput{{FeatureID: env.GenID.Generate().String()}}
		}, productdomain.ErrFeatureNotFound},
		{"archived feature", func(r *productdomain.CreateRequest) {
			r.Features = []productdomain.FeatureInput{testutil.Attach(archived, 0, nil)}
		}, productfeaturedomain.ErrFeatureArchived},
		{"override of another type", func(r *productdomain.CreateRequest) {
			r.Features = []productdomain.FeatureInput{{FeatureID: sso.ID.String(), ConfigOverride: json.RawMessage(`{"max":3}`)}}
		}, productfeaturedomain.ErrInvalidOverride},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(&req)
			_, err := env.Products.Create(env.Ctx, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	list, err := env.Products.List(env.Ctx, productdomain.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Products)
}

func TestListPagesCurrentVersions(t *testing.T) {
	env := testutil.NewEnv(t)
	for _, name := range []string{"A", "B", "C"} {
		env.Product(t, name, 1000)
	}

	first, err := env.Products.List(env.Ctx, productdomain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Products, 2)
	require.NotEmpty(t, first.PageInfo.NextPageToken)

	second, err := env.Products.List(env.Ctx, productdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.Products, 1)
	assert.Empty(t, second.PageInfo.NextPageToken)
	assert.Equal(t, "C", second.Products[0].Name)

	_, err = env.Products.List(env.Ctx, productdomain.ListRequest{Pagination: pagination.Pagination{PageToken: "???"}})
	assert.ErrorIs(t, err, productdomain.ErrInvalidPageToken)
}

func TestDeprecate(t *testing.T) {
	env := testutil.NewEnv(t)
	product := env.Product(t, "Pro", 1000)
	customer := env.GenID.Generate()
	env.Subscribe(t, customer, product)

	resp, err := env.Products.Deprecate(env.Ctx, product.ID.String())
	require.NoError(t, err)
	assert.Equal(t, productdomain.VersionDeprecated, resp.VersionStatus)

	_, err = env.Products.Deprecate(env.Ctx, product.ID.String())
	assert.ErrorIs(t, err, productdomain.ErrAlreadyDeprecated)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))

	_, err = env.Subscriptions.Create(env.Ctx, subscriptiondomain.CreateRequest{
		CustomerID: env.GenID.Generate().String(),
		PriceID:    product.Prices[0].ID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrProductNotCurrent)

	// Existing subscribers keep resolving against the deprecated version.
	subs, err := env.Subscriptions.ListByCustomer(env.Ctx, customer.String())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, product.ID, subs[0].ProductID)
}

func TestGetUnknown(t *testing.T) {
	env := testutil.NewEnv(t)
	_, err := env.Products.Get(env.Ctx, env.GenID.Generate().String())
	assert.ErrorIs(t, err, productdomain.ErrNotFound)

	_, err = env.Products.Get(env.Ctx, "x")
	assert.ErrorIs(t, err, productdomain.ErrInvalidID)
}
