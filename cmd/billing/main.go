// Package main содержит точку входа сервиса биллинга.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/escrow-billing/internal/app/billing"
	"github.com/magabrotheeeer/escrow-billing/internal/config"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, os.Stdout)

	logger.Info("starting billing", slog.String("env", cfg.Env))
	logger.Debug("config loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := billing.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize billing app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("billing app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("billing app stopped gracefully")
}
