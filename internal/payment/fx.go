package payment

import (
	"github.com/smallbiznis/paygate/internal/config"
	gatewayservice "github.com/smallbiznis/paygate/internal/gatewayconfig/service"
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	"github.com/smallbiznis/paygate/internal/payment/adapters/adyen"
	"github.com/smallbiznis/paygate/internal/payment/adapters/mercadopago"
	"github.com/smallbiznis/paygate/internal/payment/adapters/stripe"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/reconcile"
	"github.com/smallbiznis/paygate/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paygate/internal/payment/service"
	"github.com/smallbiznis/paygate/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			cfg.ProviderTimeout,
			mercadopago.NewFactory(),
			stripe.NewFactory(),
			adyen.NewFactory(),
		)
	}),
	fx.Provide(func(r *adapters.Registry) gatewayservice.ProviderCatalog { return r }),
	fx.Provide(reconcile.NewGuard),
	fx.Provide(
		paymentservice.NewService,
		func(s *paymentservice.Service) domain.Service { return s },
	),
	fx.Provide(
		webhook.NewService,
		func(s *webhook.Service) domain.NotificationService { return s },
	),
)
