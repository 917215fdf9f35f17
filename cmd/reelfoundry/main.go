package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/clock"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/config"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/observability"
	"github.com/sdiaoune/reel-foundry-landing-page/internal/server"
	"github.com/sdiaoune/reel-foundry-landing-page/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
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
