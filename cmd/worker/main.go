package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceid/internal/centroid"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/consistency"
	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/jobs"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/queue"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/suggest"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceid worker",
		"suggestion_workers", cfg.Engine.SuggestionWorkers,
		"cpu_cores", runtime.NumCPU(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	reports, err := storage.NewReportStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := reports.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure report bucket", "error", err)
	}

	// Open the embedding index
	idx, err := index.NewVecgoIndex(cfg.Index)
	if err != nil {
		slog.Error("open embedding index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Wire the engines
	logger := slog.Default()
	coord := consistency.NewCoordinator(db, idx, centroid.ParamsFromConfig(cfg.Engine), cfg.Engine.MaxExemplars, logger)
	engine := suggest.NewEngine(db, idx, coord, coord, suggest.ParamsFromConfig(cfg.Engine), nil, logger)
	reconciler := consistency.NewReconciler(db, idx, cfg.Engine.SuggestionBatchSize, logger)
	runner := jobs.NewRunner(db, idx, coord, engine, reconciler, reports, cfg.Engine, logger)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	consumers := []struct {
		name    string
		filter  string
		handler queue.MessageHandler
		workers int
	}{
		{"faceid-cluster", queue.SubjectCluster, runner.HandleCluster, 1},
		{"faceid-centroid", queue.SubjectCentroid + ".>", runner.HandleCentroid, runtime.NumCPU()},
		{"faceid-suggest", queue.SubjectSuggest + ".>", runner.HandleSuggest, cfg.Engine.SuggestionWorkers},
		{"faceid-reconcile", queue.SubjectReconcile, runner.HandleReconcile, 1},
	}
	for _, c := range consumers {
		if err := consumer.ConsumeJobs(ctx, c.name, c.filter, c.handler, c.workers); err != nil {
			slog.Error("start job consumer", "consumer", c.name, "error", err)
			os.Exit(1)
		}
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", cfg.Metrics.Addr)
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth and snapshot the index
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := idx.Flush(ctx); err != nil {
					slog.Warn("index snapshot failed", "error", err)
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	if err := idx.Flush(context.Background()); err != nil {
		slog.Warn("final index snapshot failed", "error", err)
	}
	slog.Info("worker stopped")
}
