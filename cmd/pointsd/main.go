package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencafe/pointsd/internal/clock"
	"github.com/opencafe/pointsd/internal/config"
	"github.com/opencafe/pointsd/internal/events"
	"github.com/opencafe/pointsd/internal/ledger"
	"github.com/opencafe/pointsd/internal/migration"
	"github.com/opencafe/pointsd/internal/observability/logger"
	"github.com/opencafe/pointsd/internal/observability/tracing"
	"github.com/opencafe/pointsd/internal/points"
	"github.com/opencafe/pointsd/internal/reconcile"
	"github.com/opencafe/pointsd/internal/seed"
	"github.com/opencafe/pointsd/internal/server"
	"github.com/opencafe/pointsd/internal/token"
	"github.com/opencafe/pointsd/internal/xpconfig"
	"github.com/opencafe/pointsd/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		clock.Module,
		db.Module,
		fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger, node *snowflake.Node) error {
			if err := migration.RunMigrations(conn); err != nil {
				return err
			}
			if err := seed.EnsureAdminToken(conn, cfg, log, node); err != nil {
				return err
			}
			return seed.EnsureDemoUsers(conn, cfg)
		}),
		tracing.Module,
		ledger.Module,
		xpconfig.Module,
		events.Module,
		token.Module,
		points.Module,
		reconcile.Module,
		server.Module,
	)
	app.Run()
}
