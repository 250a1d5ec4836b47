package pricesync

import (
	"context"

	"github.com/smallbiznis/entitlements/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("pricesync",
	fx.Provide(NewNotifier),
	fx.Provide(NewDispatcher),
	fx.Invoke(registerShutdown),
)

// NewNotifier picks Stripe when a secret key is configured.
func NewNotifier(cfg config.Config, log *zap.Logger) Notifier {
	if cfg.Stripe.SecretKey == "" {
		log.Info("price sync disabled: no stripe key")
		return NoopNotifier{}
	}
	return NewStripeNotifier(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL, cfg.Stripe.RequestTimeout)
}

func registerShutdown(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return d.Wait(ctx)
		},
	})
}
