package main

import (
	"context"
	"errors"
	"os"
	"time"

	"conti/internal/cli"
	"conti/internal/log"
	gsheet "conti/internal/sheets/google"
	"conti/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	logger.Info("Starting history-worker")

	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required by the history worker")
		os.Exit(1)
	}

	b := cli.OpenBackend(context.Background(), logger, cfg)

	sheets, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleHistorySheet)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	w := worker.NewHistoryWorker(b.Store, sheets, sheets, b.Ledger.HouseholdID())

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := b.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Performing startup export check...")
	if n, err := w.ExportPending(ctx); err != nil {
		logger.Error("Startup export check failed", log.FieldError, err, "exported", n)
	}

	if b.Events != nil {
		go func() {
			err := b.Events.ConsumeEvents(ctx, w.HandleEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event consumption failed", log.FieldError, err)
			}
		}()
	} else {
		logger.Info("AMQP disabled, relying on periodic export only", "interval", cfg.HistorySyncInterval)
	}

	go func() {
		ticker := time.NewTicker(cfg.HistorySyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := w.ExportPending(ctx); err != nil {
					logger.Error("Periodic export failed", log.FieldError, err, "exported", n)
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("History-worker shutdown complete")
}
