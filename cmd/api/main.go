package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/racephoto/internal/api"
	"github.com/your-org/racephoto/internal/api/handlers"
	"github.com/your-org/racephoto/internal/api/ws"
	"github.com/your-org/racephoto/internal/app"
	"github.com/your-org/racephoto/internal/config"
	"github.com/your-org/racephoto/internal/ingest"
	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/observability"
	"github.com/your-org/racephoto/internal/queue"
	"github.com/your-org/racephoto/internal/storage"
	"github.com/your-org/racephoto/pkg/dto"
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

	slog.Info("starting racephoto API service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

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
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Relay photo indexed events to live galleries
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.PhotoIndexedEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			slog.Warn("discarding malformed photo event", "error", err)
			return nil
		}
		hub.BroadcastEvent(&dto.WSEvent{
			Type:        "photo_indexed",
			OrganizerID: ev.TenantID,
			EventID:     ev.EventID,
			Data: dto.PhotoSummary{
				ImageKey:    ev.ImageKey,
				OrganizerID: ev.TenantID,
				EventID:     ev.EventID,
				Bib:         ev.Bib,
				Status:      string(ev.Status),
				FaceCount:   ev.FaceCount,
				UploadedAt:  ev.UploadedAt.Format(time.RFC3339),
			},
		})
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:  cfg.Server.APIKey,
		Photos:  db,
		Selfie:  app.NewSelfieService(cfg, svc, db, logger),
		Trigger: ingest.NewTrigger(objects, producer, cfg.Storage.RawMarker, logger),
		Presign: objects,
		URLTTL:  cfg.Storage.PresignTTL,
		Hub:     hub,
		Checks: map[string]handlers.Check{
			"postgres": db.Ping,
			"storage":  objects.Ping,
			"nats":     func(context.Context) error { return producer.Ping() },
		},
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
