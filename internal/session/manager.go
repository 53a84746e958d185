package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/HJ8A/proyecto-asistencia/internal/capture"
	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/tracking"
)

// ErrSessionActive is returned by Start while another session is running.
var ErrSessionActive = errors.New("a capture session is already running")

// SourceFactory returns a fresh, unopened source for each session.
type SourceFactory func() capture.Source

// Reloader installs a new gallery snapshot.
type Reloader interface {
	Snapshots
	Reload(ctx context.Context) (*gallery.Snapshot, error)
}

// Manager enforces a single running session and exposes the control surface.
type Manager struct {
	deps      Deps
	cfg       Config
	gallery   Reloader
	newSource SourceFactory

	ctx    context.Context
	cancel context.CancelFunc

	startMu sync.Mutex
	mu      sync.Mutex
	current *Session
}

func NewManager(g Reloader, newSource SourceFactory, deps Deps, cfg Config) *Manager {
	deps.Gallery = g
	if deps.Stabilizer == nil {
		deps.Stabilizer = tracking.NewStabilizer(0, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:      deps,
		cfg:       cfg,
		gallery:   g,
		newSource: newSource,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start opens the camera and launches the loop. It returns once the source is
// open, or with an error wrapping capture.ErrDeviceUnavailable.
func (m *Manager) Start(ctx context.Context) (models.SessionStatus, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil && cur.Status().State == models.SessionRunning {
		return cur.Status(), ErrSessionActive
	}
	if cur != nil {
		// The previous loop may still be closing the device.
		<-cur.Done()
	}
	if m.ctx.Err() != nil {
		return models.SessionStatus{State: models.SessionIdle}, fmt.Errorf("start session: manager closed")
	}

	s := newSession(m.newSource(), m.deps, m.cfg)
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	if err := s.open(ctx); err != nil {
		return s.Status(), fmt.Errorf("start session: %w", err)
	}

	go s.run(m.ctx)
	slog.Info("session started", "session_id", s.ID())
	return s.Status(), nil
}

// Stop ends the running session and waits for the camera to be released.
// Calling it with no running session is a no-op.
func (m *Manager) Stop() models.SessionStatus {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return models.SessionStatus{State: models.SessionIdle}
	}
	s.Stop()
	<-s.Done()
	return s.Status()
}

// ReloadGallery swaps in a fresh snapshot. The running loop picks it up at
// the next frame; a failure leaves the previous snapshot in place.
func (m *Manager) ReloadGallery(ctx context.Context) (*gallery.Snapshot, error) {
	snap, err := m.gallery.Reload(ctx)
	if err != nil {
		return m.gallery.Current(), fmt.Errorf("reload gallery: %w", err)
	}
	return snap, nil
}

// Status of the current or most recent session.
func (m *Manager) Status() models.SessionStatus {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return models.SessionStatus{State: models.SessionIdle}
	}
	return s.Status()
}

// Overlay is the stabilized face layout of the last processed frame.
func (m *Manager) Overlay() []tracking.Track {
	return m.deps.Stabilizer.Tracks()
}

// Close stops any session and refuses further starts.
func (m *Manager) Close() {
	m.cancel()
	m.Stop()
}
