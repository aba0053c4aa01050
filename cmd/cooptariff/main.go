package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cooptariff/internal/assignment"
	"github.com/smallbiznis/cooptariff/internal/audit"
	"github.com/smallbiznis/cooptariff/internal/catalog"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/config"
	"github.com/smallbiznis/cooptariff/internal/directory"
	"github.com/smallbiznis/cooptariff/internal/expiry"
	"github.com/smallbiznis/cooptariff/internal/migration"
	"github.com/smallbiznis/cooptariff/internal/observability"
	"github.com/smallbiznis/cooptariff/internal/scheduler"
	"github.com/smallbiznis/cooptariff/internal/server"
	"github.com/smallbiznis/cooptariff/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Ledgers
		audit.Module,
		directory.Module,
		catalog.Module,
		assignment.Module,
		expiry.Module,

		// Background sweep and HTTP
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
