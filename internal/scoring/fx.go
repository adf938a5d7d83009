package scoring

import (
	"github.com/tripdeal/bargain/internal/scoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scoring.engine",
	fx.Provide(service.New),
)
