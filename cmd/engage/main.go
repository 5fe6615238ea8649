package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/openshelf/engage/internal/clock"
	"github.com/openshelf/engage/internal/config"
	"github.com/openshelf/engage/internal/migration"
	"github.com/openshelf/engage/internal/observability"
	"github.com/openshelf/engage/internal/server"
	"github.com/openshelf/engage/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
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
