package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  host: db\n"))
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 0.6, cfg.Vision.AcceptThreshold)
	assert.Equal(t, "euclidean", cfg.Vision.Metric)
	assert.Equal(t, 2, cfg.Vision.FaceEveryN)
	assert.Equal(t, 5, cfg.Capture.MaxReadFailures)
	assert.Equal(t, 3*time.Second, cfg.QR.Cooldown)
	assert.Equal(t, "per_method", cfg.Attendance.DedupScope)
	assert.Equal(t, 5, cfg.Gallery.MaxTokenAttempts)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHECKIN_DEDUP_SCOPE", "per_day")
	t.Setenv("CHECKIN_DB_PORT", "6543")

	cfg, err := Load(writeConfig(t, "capture:\n  read_timeout: 500ms\n"))
	require.NoError(t, err)

	assert.Equal(t, "per_day", cfg.Attendance.DedupScope)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.ReadTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown dedup scope", body: "attendance:\n  dedup_scope: weekly\n"},
		{name: "unknown metric", body: "vision:\n  metric: manhattan\n"},
		{name: "negative threshold", body: "vision:\n  accept_threshold: -1\n"},
		{name: "negative retries", body: "attendance:\n  write_retries: -2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
