package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"conti/internal/cache"
	"conti/internal/cli"
	apphttp "conti/internal/http"
	"conti/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	b := cli.OpenBackend(context.Background(), logger, cfg)

	caches := cache.NewManager()
	caches.Register(b.History)
	caches.StartCleanup(10 * time.Minute)

	srv := apphttp.NewServer(":"+cfg.Port, b.Ledger, apphttp.Options{
		Metrics:      b.Metrics,
		Logger:       logger.WithComponent(log.ComponentHTTP),
		RateLimitRPM: cfg.RateLimitRPM,
		Ready:        b.Ready,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if err := b.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting conti server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		log.FieldHouseholdID, b.Ledger.HouseholdID())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
