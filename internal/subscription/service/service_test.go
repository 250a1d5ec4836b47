package service_test

import (
	"testing"
	"time"

	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/internal/testutil"
	versioningdomain "github.com/smallbiznis/entitlements/internal/versioning/domain"
	"github.com/smallbiznis/entitlements/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBindsCurrentVersionAndGrants(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 100, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))
	customer := env.GenID.Generate()

	sub := env.Subscribe(t, customer, product)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, product.ID, sub.ProductID)
	assert.Equal(t, testutil.Epoch, sub.CurrentPeriodStart)
	assert.Equal(t, testutil.Epoch.AddDate(0, 1, 0), sub.CurrentPeriodEnd)

	grants, err := env.SubscriptionRepo.ListActiveGrants(env.Ctx, env.DB, env.OrgID, sub.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, calls.ID, grants[0].FeatureID)
	assert.Equal(t, product.ID, grants[0].ProductID)
}

func TestCreateTrial(t *testing.T) {
	env := testutil.NewEnv(t)
	amount := int64(1000)
	product, err := env.Products.Create(env.Ctx, productdomain.CreateRequest{
		Name:              "Trial",
		RecurringInterval: "month",
		TrialDays:         14,
		Prices:            []productdomain.PriceInput{{AmountType: "fixed", PriceAmount: &amount, PriceCurrency: "usd"}},
	})
	require.NoError(t, err)

	sub := env.Subscribe(t, env.GenID.Generate(), product)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, sub.Status)
	assert.Equal(t, testutil.Epoch.AddDate(0, 0, 14), sub.CurrentPeriodEnd)

	noTrial := env.Product(t, "NoTrial", 1000)
	_, err = env.Subscriptions.Create(env.Ctx, subscriptiondomain.CreateRequest{
		CustomerID: env.GenID.Generate().String(),
		PriceID:    noTrial.Prices[0].ID.String(),
		Status:     subscriptiondomain.SubscriptionStatusTrialing,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTrial)
}

func TestCreateRejectsSupersededVersion(t *testing.T) {
	env := testutil.NewEnv(t)
	product := env.Product(t, "Pro", 1000)
	env.Subscribe(t, env.GenID.Generate(), product)

	amount := int64(2000)
	_, err := env.Versioning.ApplyEdit(env.Ctx, versioningdomain.ApplyRequest{
		ProductID: product.ID.String(),
		Changes: versioningdomain.ProductChanges{Prices: []versioningdomain.PriceChange{{
			PriceID: product.Prices[0].ID.String(), PriceAmount: &amount,
		}}},
		Confirm: true,
	})
	require.NoError(t, err)

	_, err = env.Subscriptions.Create(env.Ctx, subscriptiondomain.CreateRequest{
		CustomerID: env.GenID.Generate().String(),
		PriceID:    product.Prices[0].ID.String(),
	})
	require.ErrorIs(t, err, subscriptiondomain.ErrProductNotCurrent)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
}

func TestTransitionEndsAndRevokes(t *testing.T) {
	env := testutil.NewEnv(t)
	sso := env.Flag(t, "sso", true)
	product := env.Product(t, "Pro", 1000, testutil.Attach(sso, 0, nil))
	sub := env.Subscribe(t, env.GenID.Generate(), product)

	_, err := env.Subscriptions.Transition(env.Ctx, sub.ID.String(), subscriptiondomain.SubscriptionStatusTrialing)
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)

	_, err = env.Subscriptions.Transition(env.Ctx, sub.ID.String(), "bogus")
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidTargetStatus)

	pastDue, err := env.Subscriptions.Transition(env.Ctx, sub.ID.String(), subscriptiondomain.SubscriptionStatusPastDue)
	require.NoError(t, err)
	assert.Nil(t, pastDue.EndedAt)

	env.Clock.Advance(time.Hour)
	canceled, err := env.Subscriptions.Transition(env.Ctx, sub.ID.String(), subscriptiondomain.SubscriptionStatusCanceled)
	require.NoError(t, err)
	require.NotNil(t, canceled.CanceledAt)
	require.NotNil(t, canceled.EndedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Hour), *canceled.EndedAt)

	grants, err := env.SubscriptionRepo.ListActiveGrants(env.Ctx, env.DB, env.OrgID, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	_, err = env.Subscriptions.CancelAtPeriodEnd(env.Ctx, sub.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrTerminal)
}

func TestCancelAtPeriodEndKeepsAccess(t *testing.T) {
	env := testutil.NewEnv(t)
	sso := env.Flag(t, "sso", true)
	product := env.Product(t, "Pro", 1000, testutil.Attach(sso, 0, nil))
	customer := env.GenID.Generate()
	sub := env.Subscribe(t, customer, product)

	resp, err := env.Subscriptions.CancelAtPeriodEnd(env.Ctx, sub.ID.String())
	require.NoError(t, err)
	assert.True(t, resp.CancelAtPeriodEnd)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, resp.Status)

	_, err = env.Entitlements.Check(env.Ctx, customer.String(), "sso")
	assert.NoError(t, err)
}

func TestMigrateToVersion(t *testing.T) {
	env := testutil.NewEnv(t)
	calls := env.Quota(t, "api_calls", 100, featuredomain.ResetMonthly)
	product := env.Product(t, "Pro", 1000, testutil.Attach(calls, 0, nil))
	customer := env.GenID.Generate()
	sub := env.Subscribe(t, customer, product)

	reports := env.Flag(t, "reports", true)
	amount := int64(1500)
	res, err := env.Versioning.ApplyEdit(env.Ctx, versioningdomain.ApplyRequest{
		ProductID: product.ID.String(),
		Changes: versioningdomain.ProductChanges{
			Prices:         []versioningdomain.PriceChange{{PriceID: product.Prices[0].ID.String(), PriceAmount: &amount}},
			RemoveFeatures: []string{calls.ID.String()},
			AddFeatures:    []versioningdomain.FeatureAddition{{FeatureID: reports.ID.String()}},
		},
		Confirm: true,
	})
	require.NoError(t, err)
	v2 := res.Product

	_, err = env.Subscriptions.MigrateToVersion(env.Ctx, subscriptiondomain.MigrateRequest{
		SubscriptionID: sub.ID.String(),
		ProductID:      v2.ID.String(),
		PriceID:        product.Prices[0].ID.String(),
	})
	require.ErrorIs(t, err, subscriptiondomain.ErrPriceNotInProduct)

	migrated, err := env.Subscriptions.MigrateToVersion(env.Ctx, subscriptiondomain.MigrateRequest{
		SubscriptionID: sub.ID.String(),
		ProductID:      v2.ID.String(),
		PriceID:        v2.Prices[0].ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, v2.ID, migrated.ProductID)

	features, err := env.Entitlements.ResolveEntitlements(env.Ctx, customer.String())
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "reports", features[0].Name)

	_, err = env.Subscriptions.MigrateToVersion(env.Ctx, subscriptiondomain.MigrateRequest{
		SubscriptionID: sub.ID.String(),
		ProductID:      v2.ID.String(),
		PriceID:        v2.Prices[0].ID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSameVersion)

	other := env.Product(t, "Other", 900)
	_, err = env.Subscriptions.MigrateToVersion(env.Ctx, subscriptiondomain.MigrateRequest{
		SubscriptionID: sub.ID.String(),
		ProductID:      other.ID.String(),
		PriceID:        other.Prices[0].ID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrOtherChain)
}

func TestListByCustomer(t *testing.T) {
	env := testutil.NewEnv(t)
	product := env.Product(t, "Pro", 1000)
	customer := env.GenID.Generate()
	env.Subscribe(t, customer, product)
	env.Subscribe(t, customer, product)
	env.Subscribe(t, env.GenID.Generate(), product)

	subs, err := env.Subscriptions.ListByCustomer(env.Ctx, customer.String())
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = env.Subscriptions.Get(env.Ctx, env.GenID.Generate().String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotFound)
}

func TestRenewRollsPeriod(t *testing.T) {
	env := testutil.NewEnv(t)
	product := env.Product(t, "Pro", 1000)
	sub := env.Subscribe(t, env.GenID.Generate(), product)

	_, err := env.Subscriptions.Renew(env.Ctx, sub.ID.String())
	require.ErrorIs(t, err, subscriptiondomain.ErrPeriodNotEnded)

	// Two full periods missed land in the third.
	env.Clock.Set(testutil.Epoch.AddDate(0, 2, 3))
	renewed, err := env.Subscriptions.Renew(env.Ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.AddDate(0, 2, 0), renewed.CurrentPeriodStart)
	assert.Equal(t, testutil.Epoch.AddDate(0, 3, 0), renewed.CurrentPeriodEnd)
	assert.Equal(t, product.ID, renewed.ProductID)
}

func TestRenewEndsTrial(t *testing.T) {
	env := testutil.NewEnv(t)
	amount := int64(1000)
	product, err := env.Products.Create(env.Ctx, productdomain.CreateRequest{
		Name:              "Trial",
		RecurringInterval: "month",
		TrialDays:         14,
		Prices:            []productdomain.PriceInput{{AmountType: "fixed", PriceAmount: &amount, PriceCurrency: "usd"}},
	})
	require.NoError(t, err)
	sub := env.Subscribe(t, env.GenID.Generate(), product)

	env.Clock.Set(sub.CurrentPeriodEnd)
	renewed, err := env.Subscriptions.Renew(env.Ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, sub.CurrentPeriodEnd, renewed.CurrentPeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd.AddDate(0, 1, 0), renewed.CurrentPeriodEnd)
}

func TestRenewRefuses(t *testing.T) {
	env := testutil.NewEnv(t)
	product := env.Product(t, "Pro", 1000)

	canceling := env.Subscribe(t, env.GenID.Generate(), product)
	_, err := env.Subscriptions.CancelAtPeriodEnd(env.Ctx, canceling.ID.String())
	require.NoError(t, err)
	_, err = env.Subscriptions.Renew(env.Ctx, canceling.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrRenewalCanceled)

	paused := env.Subscribe(t, env.GenID.Generate(), product)
	env.SetStatus(t, paused.ID, subscriptiondomain.SubscriptionStatusPaused)
	_, err = env.Subscriptions.Renew(env.Ctx, paused.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotRenewable)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))
}
