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

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HJ8A/proyecto-asistencia/internal/attendance"
	"github.com/HJ8A/proyecto-asistencia/internal/capture"
	"github.com/HJ8A/proyecto-asistencia/internal/config"
	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
	"github.com/HJ8A/proyecto-asistencia/internal/match"
	"github.com/HJ8A/proyecto-asistencia/internal/observability"
	"github.com/HJ8A/proyecto-asistencia/internal/queue"
	"github.com/HJ8A/proyecto-asistencia/internal/session"
	"github.com/HJ8A/proyecto-asistencia/internal/storage"
	"github.com/HJ8A/proyecto-asistencia/internal/tracking"
	"github.com/HJ8A/proyecto-asistencia/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	autostart := flag.Bool("autostart", false, "open the camera and start a session on boot")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting check-in kiosk",
		"device", cfg.Capture.Device,
		"dedup_scope", cfg.Attendance.DedupScope,
		"metric", cfg.Vision.Metric,
	)

	// Initialize ONNX Runtime
	destroyRuntime, err := vision.InitRuntime(cfg.Vision.RuntimeLib)
	if err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer destroyRuntime()

	analyzer, err := vision.NewAnalyzer(cfg.Vision)
	if err != nil {
		slog.Error("init face analyzer", "error", err)
		os.Exit(1)
	}
	defer analyzer.Close()

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

	// Gallery
	g := gallery.New(db)
	if _, err := g.Reload(context.Background()); err != nil {
		// The kiosk still credits nobody until a reload succeeds.
		slog.Warn("initial gallery load", "error", err)
	}

	scope, err := attendance.ParseScope(cfg.Attendance.DedupScope)
	if err != nil {
		slog.Error("dedup scope", "error", err)
		os.Exit(1)
	}
	opts := attendance.Options{
		Scope:        scope,
		WriteRetries: cfg.Attendance.WriteRetries,
		Publisher:    producer,
	}
	if cfg.Attendance.SaveSnapshots {
		opts.Snapshots = minioStore
	}
	engine := attendance.NewEngine(db, opts)

	faceMatcher, err := match.NewFaceMatcher(cfg.Vision.AcceptThreshold, match.Metric(cfg.Vision.Metric))
	if err != nil {
		slog.Error("init face matcher", "error", err)
		os.Exit(1)
	}

	newSource := func() capture.Source {
		return capture.NewFFmpegSource(capture.Options{
			Device:      cfg.Capture.Device,
			FPS:         cfg.Capture.FPS,
			Width:       cfg.Capture.Width,
			OpenTimeout: cfg.Capture.OpenTimeout,
			ReadTimeout: cfg.Capture.ReadTimeout,
		})
	}

	manager := session.NewManager(g, newSource, session.Deps{
		Faces:       analyzer,
		Symbols:     vision.NewQRDecoder(),
		FaceMatcher: faceMatcher,
		QRMatcher:   match.NewQRMatcher(cfg.QR.Cooldown),
		Engine:      engine,
		Stabilizer:  tracking.NewStabilizer(cfg.Tracking.HistorySize, cfg.Tracking.Window),
	}, session.Config{
		FaceEveryN:      cfg.Vision.FaceEveryN,
		MaxReadFailures: cfg.Capture.MaxReadFailures,
	})
	defer manager.Close()

	// Control commands from the API
	sub, err := queue.ServeControl(producer.Conn(), manager)
	if err != nil {
		slog.Error("subscribe to control subject", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sub.Drain() }()

	// Periodic gallery refresh picks up enrolments made through the API
	scheduler := gocron.NewScheduler(time.Local)
	_, err = scheduler.Every(cfg.Gallery.RefreshInterval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := manager.ReloadGallery(ctx); err != nil {
			slog.Warn("scheduled gallery reload", "error", err)
		}
	})
	if err != nil {
		slog.Error("schedule gallery refresh", "error", err)
		os.Exit(1)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	if *autostart {
		if _, err := manager.Start(context.Background()); err != nil {
			slog.Error("autostart session", "error", err)
		}
	}

	// Metrics, health and overlay endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		mux.HandleFunc("/overlay", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"session": manager.Status(),
				"tracks":  manager.Overlay(),
			})
		})
		slog.Info("kiosk metrics listening", "addr", cfg.Server.MetricsAddr)
		if err := http.ListenAndServe(cfg.Server.MetricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down kiosk...")
	st := manager.Stop()
	slog.Info("kiosk stopped", "frames", st.Frames, "credits", st.Credits)
}
