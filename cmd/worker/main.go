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

	"github.com/your-org/racephoto/internal/app"
	"github.com/your-org/racephoto/internal/batch"
	"github.com/your-org/racephoto/internal/cache"
	"github.com/your-org/racephoto/internal/config"
	"github.com/your-org/racephoto/internal/observability"
	"github.com/your-org/racephoto/internal/pipeline"
	"github.com/your-org/racephoto/internal/queue"
	"github.com/your-org/racephoto/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting racephoto worker",
		"workers", cfg.Pipeline.WorkerCount,
		"batch_size", cfg.Pipeline.BatchSize,
		"cpu_cores", runtime.NumCPU(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	objects, err := storage.NewObjectStore(ctx, cfg)
	if err != nil {
		slog.Error("open object store", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	svc, err := app.Connect(ctx, cfg)
	if err != nil {
		slog.Error("connect recognition services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

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

	processor := app.NewProcessor(cfg, svc, db, objects, producer, logger)
	coordinator := batch.NewCoordinator(processor, batch.Options{
		Timeout:     cfg.Pipeline.MessageTimeout,
		Concurrency: cfg.Pipeline.BatchSize,
	}, logger)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumePhotos(ctx, queue.PhotoConsumerConfig{
		Name:       "photo-workers",
		Workers:    cfg.Pipeline.WorkerCount,
		BatchSize:  cfg.Pipeline.BatchSize,
		AckWait:    cfg.NATS.AckWait,
		MaxDeliver: cfg.NATS.MaxDeliver,
	}, coordinator, producer)
	if err != nil {
		slog.Error("start photo consumer", "error", err)
		os.Exit(1)
	}

	// Reconciliation pass
	var scheduler *app.Scheduler
	if !cfg.Reconcile.Disabled {
		var lock app.Locker
		if svc.Redis != nil {
			host, _ := os.Hostname()
			lock = cache.NewRunLock(svc.Redis, fmt.Sprintf("%s-%d", host, os.Getpid()))
		}
		scheduler = app.NewScheduler(pipeline.NewReconciler(db, processor, logger), lock, logger)
		if err := scheduler.Start(cfg.Reconcile.Schedule); err != nil {
			slog.Error("schedule reconciliation", "schedule", cfg.Reconcile.Schedule, "error", err)
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
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		slog.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go queue.WatchDepth(ctx, producer, 10*time.Second)

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
