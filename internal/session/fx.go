package session

import (
	"github.com/tripdeal/bargain/internal/session/repository"
	"github.com/tripdeal/bargain/internal/session/store"
	"go.uber.org/fx"
)

var Module = fx.Module("session.store",
	fx.Provide(
		repository.Provide,
		store.New,
	),
)
