package capsule

import (
	"github.com/tripdeal/bargain/internal/capsule/repository"
	"github.com/tripdeal/bargain/internal/capsule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("capsule.signer",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
