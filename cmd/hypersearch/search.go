package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/HatiCode/oceanquake/cmd/hypersearch/config"
	"github.com/HatiCode/oceanquake/cmd/hypersearch/metrics"
	"github.com/HatiCode/oceanquake/cmd/hypersearch/report"
	"github.com/HatiCode/oceanquake/cmd/hypersearch/router"
	"github.com/HatiCode/oceanquake/pkg/httpx"
	"github.com/HatiCode/oceanquake/pkg/loader"
	"github.com/HatiCode/oceanquake/pkg/preprocess"
	"github.com/HatiCode/oceanquake/pkg/tls"
	"github.com/HatiCode/oceanquake/pkg/tuner"
)

// run executes the whole pipeline: load, normalize and split, search, report.
// The report is written to stdout even when the search ends with an error,
// as long as at least one trial ran.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) error {
	x, y, err := loader.Load(cfg.Features, cfg.Labels, loader.Options{Format: cfg.LoaderFormat()})
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	logger.Info("dataset loaded", "shape", x.Shape().String(), "features", cfg.Features, "labels", cfg.Labels)

	split, scalers, err := preprocess.Prepare(x, y, preprocess.Options{TestFraction: cfg.TestFraction, Seed: cfg.Seed})
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	logger.Info("dataset split",
		"train_samples", split.TrainX.Len(),
		"test_samples", split.TestX.Len(),
		"channels", len(scalers))

	space, err := cfg.Space()
	if err != nil {
		return err
	}

	store, release, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	opts := tuner.Options{
		MaxTrials:     cfg.MaxTrials,
		InitialPoints: cfg.InitialPoints,
		Seed:          cfg.Seed,
		Epochs:        cfg.Epochs,
		BatchSize:     cfg.BatchSize,
		Beta:          cfg.Beta,
		Candidates:    cfg.Candidates,
		MaxDuration:   cfg.MaxDuration,
		Patience:      cfg.Patience,
		Project:       cfg.Project,
	}.WithDefaults()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, opts.Project)

	obs := observers{m}
	if cfg.Progress {
		bar := newProgress(stderr, cfg.MaxTrials)
		defer bar.finish()
		obs = append(obs, bar)
	}

	if cfg.Listen != "" {
		stop, err := startStatusServer(cfg, router.SetupRoutes(store, reg, logger), logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	tn, err := tuner.New(space, store, tuner.ModelRunner{Logger: logger, OnEpoch: m.ObserveEpoch}, obs, opts, logger)
	if err != nil {
		return fmt.Errorf("create tuner: %w", err)
	}

	res, searchErr := tn.Search(ctx, split)
	if res != nil && len(res.Trials) > 0 {
		if err := report.Write(stdout, res, scalers); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if searchErr != nil {
		return fmt.Errorf("search: %w", searchErr)
	}
	return nil
}

// startStatusServer serves handler on cfg.Listen in the background. The
// returned function stops it.
func startStatusServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) (func(), error) {
	tlsConfig, err := tls.NewServerConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("status server tls: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("status server: %w", err)
	}

	srv := httpx.NewServer(cfg.Listen, handler, tlsConfig, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil {
			logger.Error("status server failed", "error", err)
		}
	}()
	logger.Info("status server listening", "addr", ln.Addr().String(), "tls", cfg.TLS.Enabled, "mtls", cfg.TLS.Mutual())

	return func() {
		if err := srv.Stop(5 * time.Second); err != nil {
			logger.Error("status server shutdown failed", "error", err)
		}
		<-done
	}, nil
}
