package quote

import (
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("quote.store",
	fx.Provide(
		NewStore,
		fx.Annotate(
			func(s *Store) paymentdomain.ReferenceStore { return s },
			fx.ResultTags(`group:"reference_stores"`),
		),
	),
)
