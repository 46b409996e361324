// Package cli holds the start-up steps shared by the commands under cmd/.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"conti/internal/backend"
	"conti/internal/config"
	"conti/internal/core"
	"conti/internal/log"

	"github.com/joho/godotenv"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	lc := log.DefaultConfig()
	lc.Component = component
	if cfg != nil {
		lc.Level = log.ParseLevel(cfg.LogLevel)
		if cfg.LogFormat != "" {
			lc.Format = strings.ToLower(cfg.LogFormat)
		}
	}
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment and exits
// the process when it is invalid.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// ResolveHousehold returns the household id and the members to seed.
// HOUSEHOLD_FILE wins for members; HOUSEHOLD_ID, when also set, must match
// the file's id.
func ResolveHousehold(cfg *config.Config) (string, []core.Member, error) {
	if cfg.HouseholdFile == "" {
		if cfg.HouseholdID == "" {
			return "", nil, fmt.Errorf("no household configured")
		}
		return cfg.HouseholdID, nil, nil
	}
	h, err := config.LoadHousehold(cfg.HouseholdFile)
	if err != nil {
		return "", nil, err
	}
	if cfg.HouseholdID != "" && cfg.HouseholdID != h.ID {
		return "", nil, fmt.Errorf("HOUSEHOLD_ID %q does not match household file id %q", cfg.HouseholdID, h.ID)
	}
	return h.ID, h.CoreMembers(), nil
}

// OpenBackend resolves the household and builds the backend, exiting the
// process on failure.
func OpenBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.Backend {
	householdID, members, err := ResolveHousehold(cfg)
	if err != nil {
		logger.Error("Failed to resolve household", log.FieldError, err)
		os.Exit(1)
	}
	bc, err := backend.FromAppConfig(cfg, householdID, members)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	b, err := backend.NewFactory(logger.WithComponent(log.ComponentStorage).Logger).CreateBackend(ctx, bc)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return b
}

// GracefulShutdown cancels the returned context on SIGINT or SIGTERM, then
// runs cleanup bounded by timeout. done is closed once cleanup returned.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}

// WaitForShutdown blocks until ctx is cancelled and cleanup has finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
