package pricesync

import (
	"context"
	"sync"
	"time"

	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTimeout = 15 * time.Second

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Notifier  Notifier
	PriceRepo pricedomain.Repository
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Dispatcher runs notifications off the request path.
type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	notifier  Notifier
	priceRepo pricedomain.Repository
	metrics   *obsmetrics.Metrics
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewDispatcher(p Params) *Dispatcher {
	return &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("pricesync.dispatcher"),
		notifier:  p.Notifier,
		priceRepo: p.PriceRepo,
		metrics:   p.Metrics,
		timeout:   defaultTimeout,
	}
}

// Dispatch returns immediately; events are delivered in the background with
// their own deadline.
func (d *Dispatcher) Dispatch(events []PriceVersioned) {
	if d == nil || len(events) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		for _, event := range events {
			d.deliver(ctx, event)
		}
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, event PriceVersioned) {
	provider := d.notifier.Name()
	externalID, err := d.notifier.PriceVersioned(ctx, event)
	if err != nil {
		d.metrics.RecordPriceSync(ctx, provider, "error")
		d.log.Warn("price sync failed",
			zap.String("provider", provider),
			zap.String("price_id", event.Price.ID.String()),
			zap.String("previous_price_id", event.OldPriceID.String()),
			zap.Error(err),
		)
		return
	}
	if externalID != "" {
		if err := d.priceRepo.SetExternalID(ctx, d.db, event.OrgID, event.Price.ID, externalID); err != nil {
			d.metrics.RecordPriceSync(ctx, provider, "error")
			d.log.Warn("price sync store external id failed",
				zap.String("price_id", event.Price.ID.String()),
				zap.Error(err),
			)
			return
		}
	}
	d.metrics.RecordPriceSync(ctx, provider, "ok")
}

// Wait blocks until in-flight notifications finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
