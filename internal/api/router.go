package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HJ8A/proyecto-asistencia/internal/api/handlers"
	"github.com/HJ8A/proyecto-asistencia/internal/api/ws"
	"github.com/HJ8A/proyecto-asistencia/internal/auth"
)

type RouterConfig struct {
	APIKey   string
	Reports  handlers.Reports
	Events   handlers.EventLookup
	Students handlers.StudentStore
	Objects  interface {
		handlers.ObjectReader
		handlers.ObjectWriter
	}
	Control handlers.Controller
	Checks  map[string]handlers.Check
	Hub     *ws.Hub
	// EmbedFn extracts a face embedding from an enrolment photo. Nil disables enrolment.
	EmbedFn          handlers.EmbedFunc
	MaxTokenAttempts int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Attendance
	attH := handlers.NewAttendanceHandler(cfg.Reports, cfg.Events, cfg.Objects)
	v1.GET("/attendance", attH.ByDate)
	v1.GET("/attendance/summary", attH.Summary)
	v1.GET("/attendance/today", attH.Today)
	v1.GET("/attendance/today/summary", attH.TodaySummary)
	v1.GET("/attendance/:id/snapshot", attH.Snapshot)

	// Session control, forwarded to the kiosk
	sessH := handlers.NewSessionHandler(cfg.Control)
	v1.GET("/session", sessH.Status)
	v1.POST("/session/start", sessH.Start)
	v1.POST("/session/stop", sessH.Stop)
	v1.POST("/gallery/reload", sessH.ReloadGallery)

	// Students
	studentH := handlers.NewStudentHandler(cfg.Students, cfg.Objects)
	studentH.EmbedFn = cfg.EmbedFn
	if cfg.MaxTokenAttempts > 0 {
		studentH.MaxTokenAttempts = cfg.MaxTokenAttempts
	}
	v1.GET("/students/:id", studentH.Get)
	v1.POST("/students/:id/faces", studentH.AddFace)
	v1.POST("/students/:id/qr-token", studentH.RegenerateQR)

	return r
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AddAllowHeaders("X-API-Key", RequestIDHeader)
	cfg.AddExposeHeaders(RequestIDHeader)
	return cfg
}
