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

	"github.com/HJ8A/proyecto-asistencia/internal/api"
	"github.com/HJ8A/proyecto-asistencia/internal/api/handlers"
	"github.com/HJ8A/proyecto-asistencia/internal/api/ws"
	"github.com/HJ8A/proyecto-asistencia/internal/attendance"
	"github.com/HJ8A/proyecto-asistencia/internal/config"
	"github.com/HJ8A/proyecto-asistencia/internal/observability"
	"github.com/HJ8A/proyecto-asistencia/internal/queue"
	"github.com/HJ8A/proyecto-asistencia/internal/storage"
	"github.com/HJ8A/proyecto-asistencia/internal/vision"
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

	slog.Info("starting attendance API", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Fan recorded events out to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create attendance consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeAttendance(ctx, "api-attendance", hub.BroadcastAttendance); err != nil {
		slog.Warn("start attendance consumer", "error", err)
	}

	// ONNX Runtime is only needed for enrolment photos
	var embedFn handlers.EmbedFunc
	if destroyRuntime, err := vision.InitRuntime(cfg.Vision.RuntimeLib); err != nil {
		slog.Warn("onnx runtime init failed, enrolment unavailable", "error", err)
	} else {
		defer destroyRuntime()
		analyzer, err := vision.NewAnalyzer(cfg.Vision)
		if err != nil {
			slog.Warn("face analyzer init failed, enrolment unavailable", "error", err)
		} else {
			defer analyzer.Close()
			embedFn = analyzer.EmbedImage
			slog.Info("face analyzer ready for enrolment")
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		Reports:  attendance.NewEngine(db, attendance.Options{}),
		Events:   db,
		Students: db,
		Objects:  minioStore,
		Control:  producer,
		Checks: map[string]handlers.Check{
			"postgres": db.Ping,
			"minio":    minioStore.Ping,
			"nats":     func(context.Context) error { return producer.Ping() },
		},
		Hub:              hub,
		EmbedFn:          embedFn,
		MaxTokenAttempts: cfg.Gallery.MaxTokenAttempts,
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
