package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/unitledger/internal/audit"
	"github.com/smallbiznis/unitledger/internal/balance"
	"github.com/smallbiznis/unitledger/internal/clock"
	"github.com/smallbiznis/unitledger/internal/config"
	"github.com/smallbiznis/unitledger/internal/events"
	"github.com/smallbiznis/unitledger/internal/ledger"
	"github.com/smallbiznis/unitledger/internal/migration"
	"github.com/smallbiznis/unitledger/internal/observability"
	"github.com/smallbiznis/unitledger/internal/provisioning"
	"github.com/smallbiznis/unitledger/internal/server"
	"github.com/smallbiznis/unitledger/internal/subscription"
	"github.com/smallbiznis/unitledger/internal/tariff"
	"github.com/smallbiznis/unitledger/pkg/db"
	"github.com/smallbiznis/unitledger/pkg/log"
	"go.uber.org/fx"
)

func main() {
	fx.New(appOptions()...).Run()
}

func appOptions() []fx.Option {
	return []fx.Option{
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Billing core
		ledger.Module,
		balance.Module,
		tariff.Module,
		subscription.Module,
		provisioning.Module,
		events.Module,
		audit.Module,

		server.Module,
	}
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
