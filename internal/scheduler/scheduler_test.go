package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/entitlements/internal/clock"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newScheduler(t *testing.T, env *testutil.Env, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(Params{
		DB:              env.DB,
		Log:             env.Log,
		GenID:           env.GenID,
		Clock:           env.Clock,
		SubscriptionSvc: env.Subscriptions,
		Config:          cfg,
	})
	require.NoError(t, err)
	return s
}

func TestRunOnceSweepsDueSubscriptions(t *testing.T) {
	env := testutil.NewEnv(t)
	sso := env.Flag(t, "sso", true)
	product := env.Product(t, "Pro", 1000, testutil.Attach(sso, 0, nil))

	leaving := env.Subscribe(t, env.GenID.Generate(), product)
	_, err := env.Subscriptions.CancelAtPeriodEnd(env.Ctx, leaving.ID.String())
	require.NoError(t, err)

	staying := env.Subscribe(t, env.GenID.Generate(), product)
	other := env.Subscribe(t, env.GenID.Generate(), product)

	stuck, err := env.Subscriptions.Create(env.Ctx, subscriptiondomain.CreateRequest{
		CustomerID: env.GenID.Generate().String(),
		PriceID:    product.Prices[0].ID.String(),
		Status:     subscriptiondomain.SubscriptionStatusIncomplete,
	})
	require.NoError(t, err)

	env.Clock.Set(testutil.Epoch.AddDate(0, 1, 1))
	// Batch size 1 forces the sweep to page.
	require.NoError(t, newScheduler(t, env, Config{BatchSize: 1}).RunOnce(env.Ctx))

	got, err := env.Subscriptions.Get(env.Ctx, leaving.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, got.Status)
	assert.NotNil(t, got.EndedAt)
	grants, err := env.SubscriptionRepo.ListActiveGrants(env.Ctx, env.DB, env.OrgID, leaving.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	for _, id := range []string{staying.ID.String(), other.ID.String()} {
		got, err = env.Subscriptions.Get(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
		assert.True(t, got.CurrentPeriodStart.Equal(testutil.Epoch.AddDate(0, 1, 0)))
		assert.True(t, got.CurrentPeriodEnd.Equal(testutil.Epoch.AddDate(0, 2, 0)))
	}

	got, err = env.Subscriptions.Get(env.Ctx, stuck.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusIncompleteExpired, got.Status)
}

func TestRunOnceIgnoresOpenPeriods(t *testing.T) {
	env := testutil.NewEnv(t)
	product := env.Product(t, "Pro", 1000)
	sub := env.Subscribe(t, env.GenID.Generate(), product)
	_, err := env.Subscriptions.CancelAtPeriodEnd(env.Ctx, sub.ID.String())
	require.NoError(t, err)

	env.Clock.Advance(time.Hour)
	require.NoError(t, newScheduler(t, env, Config{}).RunOnce(env.Ctx))

	got, err := env.Subscriptions.Get(env.Ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	assert.Nil(t, got.EndedAt)
}

func TestEnabledJobsLimitsSweep(t *testing.T) {
	env := testutil.NewEnv(t)
	product := env.Product(t, "Pro", 1000)
	leaving := env.Subscribe(t, env.GenID.Generate(), product)
	_, err := env.Subscriptions.CancelAtPeriodEnd(env.Ctx, leaving.ID.String())
	require.NoError(t, err)
	staying := env.Subscribe(t, env.GenID.Generate(), product)

	env.Clock.Set(testutil.Epoch.AddDate(0, 1, 0))
	s := newScheduler(t, env, Config{EnabledJobs: []string{"RENEW_PERIODS"}})
	require.NoError(t, s.RunOnce(env.Ctx))

	got, err := env.Subscriptions.Get(env.Ctx, leaving.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	assert.True(t, got.CurrentPeriodEnd.Equal(testutil.Epoch.AddDate(0, 1, 0)))

	got, err = env.Subscriptions.Get(env.Ctx, staying.ID.String())
	require.NoError(t, err)
	assert.True(t, got.CurrentPeriodEnd.Equal(testutil.Epoch.AddDate(0, 2, 0)))
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	s := &Scheduler{log: zap.NewNop(), genID: testutil.Node(t), clock: clock.NewFakeClock(time.Time{}), cfg: DefaultConfig()}
	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)

	err = s.runJob(context.Background(), "failing_job", time.Second, func(context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BatchSize: 7}.withDefaults()
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 23*time.Hour, cfg.IncompleteExpiry)
}
