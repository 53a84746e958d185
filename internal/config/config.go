package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Capture    CaptureConfig    `yaml:"capture"`
	Vision     VisionConfig     `yaml:"vision"`
	QR         QRConfig         `yaml:"qr"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Gallery    GalleryConfig    `yaml:"gallery"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
	APIKey      string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CaptureConfig describes the camera attached to the kiosk.
type CaptureConfig struct {
	Device          string        `yaml:"device"` // /dev/video0, rtsp://..., http://...
	Width           int           `yaml:"width"`
	FPS             int           `yaml:"fps"`
	OpenTimeout     time.Duration `yaml:"open_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxReadFailures int           `yaml:"max_read_failures"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	RuntimeLib         string  `yaml:"runtime_lib"` // onnxruntime shared library, platform default if empty
	DetectionThreshold float64 `yaml:"detection_threshold"`
	AcceptThreshold    float64 `yaml:"accept_threshold"`
	Metric             string  `yaml:"metric"` // euclidean | cosine
	FaceEveryN         int     `yaml:"face_every_n"`
}

type QRConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

type TrackingConfig struct {
	HistorySize int           `yaml:"history_size"`
	Window      time.Duration `yaml:"window"`
}

type AttendanceConfig struct {
	DedupScope    string `yaml:"dedup_scope"` // per_method | per_day
	WriteRetries  int    `yaml:"write_retries"`
	SaveSnapshots bool   `yaml:"save_snapshots"`
}

type GalleryConfig struct {
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	MaxTokenAttempts int           `yaml:"max_token_attempts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory, if present, is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Attendance.DedupScope {
	case "per_method", "per_day":
	default:
		return fmt.Errorf("invalid attendance.dedup_scope %q", c.Attendance.DedupScope)
	}
	switch c.Vision.Metric {
	case "euclidean", "cosine":
	default:
		return fmt.Errorf("invalid vision.metric %q", c.Vision.Metric)
	}
	if c.Vision.AcceptThreshold <= 0 {
		return fmt.Errorf("vision.accept_threshold must be positive")
	}
	if c.Attendance.WriteRetries < 0 {
		return fmt.Errorf("attendance.write_retries must not be negative")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":8082"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Capture.Device == "" {
		cfg.Capture.Device = "/dev/video0"
	}
	if cfg.Capture.Width == 0 {
		cfg.Capture.Width = 640
	}
	if cfg.Capture.FPS == 0 {
		cfg.Capture.FPS = 15
	}
	if cfg.Capture.OpenTimeout == 0 {
		cfg.Capture.OpenTimeout = 10 * time.Second
	}
	if cfg.Capture.ReadTimeout == 0 {
		cfg.Capture.ReadTimeout = 2 * time.Second
	}
	if cfg.Capture.MaxReadFailures == 0 {
		cfg.Capture.MaxReadFailures = 5
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.AcceptThreshold == 0 {
		cfg.Vision.AcceptThreshold = 0.6
	}
	if cfg.Vision.Metric == "" {
		cfg.Vision.Metric = "euclidean"
	}
	if cfg.Vision.FaceEveryN == 0 {
		cfg.Vision.FaceEveryN = 2
	}
	if cfg.QR.Cooldown == 0 {
		cfg.QR.Cooldown = 3 * time.Second
	}
	if cfg.Tracking.HistorySize == 0 {
		cfg.Tracking.HistorySize = 4
	}
	if cfg.Tracking.Window == 0 {
		cfg.Tracking.Window = 2500 * time.Millisecond
	}
	if cfg.Attendance.DedupScope == "" {
		cfg.Attendance.DedupScope = "per_method"
	}
	if cfg.Gallery.RefreshInterval == 0 {
		cfg.Gallery.RefreshInterval = 10 * time.Minute
	}
	if cfg.Gallery.MaxTokenAttempts == 0 {
		cfg.Gallery.MaxTokenAttempts = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHECKIN_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHECKIN_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("CHECKIN_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CHECKIN_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("CHECKIN_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("CHECKIN_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("CHECKIN_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CHECKIN_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CHECKIN_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("CHECKIN_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("CHECKIN_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("CHECKIN_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("CHECKIN_CAMERA_DEVICE"); v != "" {
		cfg.Capture.Device = v
	}
	if v := os.Getenv("CHECKIN_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("CHECKIN_ONNX_LIB"); v != "" {
		cfg.Vision.RuntimeLib = v
	}
	if v := os.Getenv("CHECKIN_DEDUP_SCOPE"); v != "" {
		cfg.Attendance.DedupScope = v
	}
}
