package ledger

import (
	"github.com/smallbiznis/paygate/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(
		service.NewService,
		func(s *service.Service) paymentdomain.TransactionStore { return s },
	),
)
