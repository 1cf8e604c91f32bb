package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/daemon"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	configFlag := flag.String("config", "", "path to courier.toml (overrides COURIER_CONFIG)")
	flag.Parse()

	cfg, err := config.Read(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(cfg),
		fx.StopTimeout(cfg.Server.ShutdownTimeout.Std()),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
	)

	app.Run()
}
