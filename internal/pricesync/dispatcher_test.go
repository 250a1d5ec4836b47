package pricesync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	pricerepository "github.com/smallbiznis/entitlements/internal/price/repository"
	"github.com/smallbiznis/entitlements/internal/pricesync"
	"github.com/smallbiznis/entitlements/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	mu     sync.Mutex
	calls  []pricesync.PriceVersioned
	result string
	err    error
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) PriceVersioned(_ context.Context, ev pricesync.PriceVersioned) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ev)
	return f.result, f.err
}

func seedPrice(t *testing.T, repo pricedomain.Repository) (*gorm.DB, pricedomain.Price) {
	t.Helper()
	db := testutil.OpenDB(t)
	amount := int64(100)
	price := pricedomain.Price{
		ID:            testutil.Node(t).Generate(),
		OrgID:         7,
		ProductID:     8,
		AmountType:    pricedomain.AmountFixed,
		PriceAmount:   &amount,
		PriceCurrency: "usd",
		CreatedAt:     testutil.Epoch,
		UpdatedAt:     testutil.Epoch,
	}
	require.NoError(t, repo.Insert(context.Background(), db, &price))
	return db, price
}

func wait(t *testing.T, d *pricesync.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestDispatcherStoresExternalID(t *testing.T) {
	repo := pricerepository.Provide()
	db, price := seedPrice(t, repo)
	notifier := &fakeNotifier{result: "price_ext"}
	d := pricesync.NewDispatcher(pricesync.Params{DB: db, Log: zap.NewNop(), Notifier: notifier, PriceRepo: repo})

	d.Dispatch([]pricesync.PriceVersioned{{OrgID: price.OrgID, Price: price}})
	wait(t, d)
	assert.Len(t, notifier.calls, 1)

	stored, err := repo.FindByID(context.Background(), db, price.OrgID, price.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExternalID)
	assert.Equal(t, "price_ext", *stored.ExternalID)
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	repo := pricerepository.Provide()
	db, price := seedPrice(t, repo)
	notifier := &fakeNotifier{err: errors.New("provider down")}
	d := pricesync.NewDispatcher(pricesync.Params{DB: db, Log: zap.NewNop(), Notifier: notifier, PriceRepo: repo})

	d.Dispatch([]pricesync.PriceVersioned{{OrgID: price.OrgID, Price: price}, {OrgID: price.OrgID, Price: price}})
	wait(t, d)

	// Every event is attempted even after a failure.
	assert.Len(t, notifier.calls, 2)

	stored, err := repo.FindByID(context.Background(), db, price.OrgID, price.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ExternalID)
}

func TestDispatchNothing(t *testing.T) {
	var d *pricesync.Dispatcher
	d.Dispatch([]pricesync.PriceVersioned{{}})

	notifier := &fakeNotifier{}
	d = pricesync.NewDispatcher(pricesync.Params{Log: zap.NewNop(), Notifier: notifier})
	d.Dispatch(nil)
	wait(t, d)
	assert.Empty(t, notifier.calls)
}
