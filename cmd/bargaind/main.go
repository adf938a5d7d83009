package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tripdeal/bargain/internal/auditlog"
	"github.com/tripdeal/bargain/internal/cache"
	"github.com/tripdeal/bargain/internal/capsule"
	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	"github.com/tripdeal/bargain/internal/migration"
	"github.com/tripdeal/bargain/internal/negotiation"
	"github.com/tripdeal/bargain/internal/observability"
	"github.com/tripdeal/bargain/internal/offer"
	"github.com/tripdeal/bargain/internal/ratecontext"
	"github.com/tripdeal/bargain/internal/scoring"
	"github.com/tripdeal/bargain/internal/server"
	"github.com/tripdeal/bargain/internal/session"
	"github.com/tripdeal/bargain/internal/sweeper"
	"github.com/tripdeal/bargain/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,
		migration.Module,

		// Negotiation domains
		ratecontext.Module,
		session.Module,
		offer.Module,
		scoring.Module,
		capsule.Module,
		auditlog.Module,
		negotiation.Module,
		sweeper.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
