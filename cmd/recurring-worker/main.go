package main

import (
	"context"
	"os"
	"time"

	"conti/internal/cli"
	"conti/internal/log"
	"conti/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	logger.Info("Starting recurring-worker")

	b := cli.OpenBackend(context.Background(), logger, cfg)
	if b.Events == nil {
		logger.Info("AMQP disabled, charge events will not be published")
	}

	runner := services.NewRecurringRunner(b.Ledger, services.RecurringRunnerConfig{
		PollInterval: cfg.RecurringInterval,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := runner.Stop(ctx); err != nil {
			logger.Warn("Recurring runner did not stop cleanly", log.FieldError, err)
		}
		if err := b.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Recurring charge runner configured",
		"interval", cfg.RecurringInterval,
		log.FieldHouseholdID, b.Ledger.HouseholdID(),
		"backend", cfg.DataBackend)
	if err := runner.Start(ctx); err != nil {
		logger.Error("Failed to start recurring runner", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
