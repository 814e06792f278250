package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quant_go/internal/app"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	bootstrap, err := app.NewBootstrap(*configPath)
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Recover(ctx); err != nil {
		slog.Error("state recovery failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("trading core starting",
		slog.String("mode", bootstrap.Config.Trading.Mode),
		slog.Any("symbols", bootstrap.Config.Trading.Symbols))

	if err := bootstrap.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("trading core stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}
