// Command hypersearch runs the Bayesian hyperparameter search of the ConvLSTM
// earthquake classifier over an ocean-colour dataset.
//
// The command:
//  1. Loads the feature tensor and labels (JSON or .npy)
//  2. Splits them 80/20 and scales every channel to [0, 1] on the training part
//  3. Runs the search, persisting every trial to the trial store
//  4. Prints the best configuration, its model summary and the trial ledger
//
// An optional status server exposes progress while the search runs:
//   - GET /trials?project=<id> - Trial ledger from the store
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	hypersearch \
//	  -features=features.json \
//	  -labels=labels.json \
//	  -max-trials=20 -epochs=50 \
//	  -listen=:8090
//
// Environment variables:
//
//	FEATURES     - Features file (required)
//	LABELS       - Labels file (required)
//	MAX_TRIALS   - Trial budget (default: 20)
//	EPOCHS       - Epochs per trial (default: 50)
//	SEED         - Seed for split, oracle and initialization (default: 42)
//	STORAGE      - Trial store: memory or redis (default: memory)
//	REDIS_ADDR   - Redis address (default: localhost:6379)
//	LISTEN       - Status server address (default: disabled)
//	LOG_LEVEL    - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT   - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HatiCode/oceanquake/cmd/hypersearch/config"
	"github.com/HatiCode/oceanquake/cmd/hypersearch/logger"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting oceanquake hypersearch",
		"version", version,
		"features", cfg.Features,
		"labels", cfg.Labels,
		"max_trials", cfg.MaxTrials,
		"storage", cfg.Storage,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdout, os.Stderr); err != nil {
		log.Error("hypersearch failed", "error", err)
		stop()
		os.Exit(1)
	}

	log.Info("hypersearch complete")
}
