package offer

import (
	"github.com/tripdeal/bargain/internal/offer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("offer.engine",
	fx.Provide(service.New),
)
