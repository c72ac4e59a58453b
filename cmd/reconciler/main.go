package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/consistency"
	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	interval := flag.Duration("interval", 15*time.Minute, "time between reconciliation passes")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceid reconciler", "interval", *interval, "once", *once)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	reports, err := storage.NewReportStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := reports.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure report bucket", "error", err)
	}

	idx, err := index.NewVecgoIndex(cfg.Index)
	if err != nil {
		slog.Error("open embedding index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	reconciler := consistency.NewReconciler(db, idx, cfg.Engine.SuggestionBatchSize, slog.Default())

	runPass := func() {
		report, err := reconciler.Run(ctx, false)
		if err != nil {
			slog.Error("reconciliation pass failed", "error", err)
		}
		if report == nil {
			return
		}
		if _, perr := reports.PutReport(ctx, "reconcile", report); perr != nil {
			slog.Warn("failed to archive reconcile report", "error", perr)
		}
		if err := idx.Flush(ctx); err != nil {
			slog.Warn("index snapshot failed", "error", err)
		}
	}

	if *once {
		runPass()
		return
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("reconciler metrics listening", "addr", cfg.Metrics.Addr)
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	runPass()
	for {
		select {
		case <-ticker.C:
			runPass()
		case <-quit:
			slog.Info("shutting down reconciler...")
			cancel()
			return
		}
	}
}
