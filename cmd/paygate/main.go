package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/config"
	"github.com/smallbiznis/paygate/internal/migration"
	"github.com/smallbiznis/paygate/internal/observability"
	"github.com/smallbiznis/paygate/internal/scheduler"
	"github.com/smallbiznis/paygate/internal/server"
	"github.com/smallbiznis/paygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
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
		scheduler.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

// RegisterSnowflake builds the id generator; NODE_ID must differ per replica.
func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
