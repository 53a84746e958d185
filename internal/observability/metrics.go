package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "frames_processed_total",
		Help:      "Total number of camera frames fully processed",
	})

	FrameReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "frame_read_failures_total",
		Help:      "Total number of transient frame read failures",
	})

	QRPayloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "qr_payloads_total",
		Help:      "Decoded QR payloads by lookup result",
	}, []string{"result"}) // hit, miss, cooldown

	FacesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "faces_matched_total",
		Help:      "Face embeddings by gallery match result",
	}, []string{"result"}) // identified, unidentified

	Credits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "attendance_credits_total",
		Help:      "Attendance events persisted",
	}, []string{"method", "status"})

	Duplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "attendance_duplicates_total",
		Help:      "Credits suppressed because the identity was already credited today",
	}, []string{"method"})

	WriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "attendance_write_failures_total",
		Help:      "Attendance writes that failed and were dropped",
	})

	GalleryReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "gallery_reloads_total",
		Help:      "Gallery reload attempts by result",
	}, []string{"result"})

	GalleryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkin",
		Name:      "gallery_entries",
		Help:      "Embedding rows in the active gallery snapshot",
	})

	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkin",
		Name:      "session_running",
		Help:      "1 while a capture session is running",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkin",
		Name:      "stage_duration_seconds",
		Help:      "Duration of per-frame processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkin",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkin",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
