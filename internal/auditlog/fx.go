package auditlog

import (
	"github.com/tripdeal/bargain/internal/auditlog/repository"
	"github.com/tripdeal/bargain/internal/auditlog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auditlog.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
