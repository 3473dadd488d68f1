package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/timour/order-saga-orchestrator/internal/app"
	"github.com/timour/order-saga-orchestrator/internal/config"
	"github.com/timour/order-saga-orchestrator/internal/logger"
	"github.com/timour/order-saga-orchestrator/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.ServiceName)
	log.Info("starting saga orchestrator",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("admin_addr", cfg.AdminAddr),
	)

	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName)
	if err != nil {
		log.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer shutdownTracer()

	a, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to create app", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		if err := a.Shutdown(context.Background()); err != nil {
			log.Error("error during shutdown", "error", err)
		}
		cancel()
	}()

	if err := a.Start(ctx); err != nil {
		log.Error("failed to start app", "error", err)
		os.Exit(1)
	}
}
