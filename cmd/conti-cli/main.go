// Command conti-cli administers a household ledger from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"conti/internal/backend"
	"conti/internal/cli"
	"conti/internal/config"
	"conti/internal/log"

	"github.com/joho/godotenv"
)

func main() {
	a := &app{out: os.Stdout, open: openFromEnv}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openFromEnv builds the backend the same way the server does. Logs go to
// stderr so command output stays pipeable.
func openFromEnv(ctx context.Context, envFile string, debug bool) (*backend.Backend, *config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		cli.LoadEnvFile()
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	lc := log.DefaultConfig()
	lc.Component = "cli"
	lc.Output = os.Stderr
	lc.Format = strings.ToLower(cfg.LogFormat)
	lc.Level = log.ParseLevel("warn")
	if debug {
		lc.Level = log.ParseLevel("debug")
	}
	logger := log.New(lc)
	log.SetDefault(logger)

	householdID, members, err := cli.ResolveHousehold(cfg)
	if err != nil {
		return nil, nil, err
	}
	bc, err := backend.FromAppConfig(cfg, householdID, members)
	if err != nil {
		return nil, nil, err
	}
	b, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bc)
	if err != nil {
		return nil, nil, err
	}
	return b, cfg, nil
}
