package ratecontext

import (
	"github.com/tripdeal/bargain/internal/ratecontext/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ratecontext.service",
	fx.Provide(
		service.NewQuoteSource,
		service.New,
	),
)
