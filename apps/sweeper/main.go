package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cooptariff/internal/assignment/repository"
	"github.com/smallbiznis/cooptariff/internal/audit"
	catalogrepository "github.com/smallbiznis/cooptariff/internal/catalog/repository"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/config"
	"github.com/smallbiznis/cooptariff/internal/expiry"
	"github.com/smallbiznis/cooptariff/internal/observability"
	"github.com/smallbiznis/cooptariff/internal/scheduler"
	"github.com/smallbiznis/cooptariff/pkg/db"
	"go.uber.org/fx"
)

// The sweeper runs only the scheduled expiry pass. Schema migrations are left to the API binary.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Repositories the sweep reads and the event log it writes
		fx.Provide(catalogrepository.Provide),
		fx.Provide(repository.Provide),
		audit.Module,
		expiry.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
