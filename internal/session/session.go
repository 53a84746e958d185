// Package session runs the capture loop: one camera, one frame at a time,
// QR lookup on every frame and face matching on every Nth.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HJ8A/proyecto-asistencia/internal/attendance"
	"github.com/HJ8A/proyecto-asistencia/internal/capture"
	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
	"github.com/HJ8A/proyecto-asistencia/internal/match"
	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/observability"
	"github.com/HJ8A/proyecto-asistencia/internal/tracking"
)

// Face is one detected face with its embedding.
type Face struct {
	Box       [4]float32
	Embedding []float32
}

// FaceAnalyzer turns a frame into face embeddings.
type FaceAnalyzer interface {
	Faces(ctx context.Context, img image.Image) ([]Face, error)
}

// SymbolDecoder extracts QR payloads from a frame. No symbol is not an error.
type SymbolDecoder interface {
	Decode(img image.Image) ([]string, error)
}

// Snapshots is the read side of the gallery.
type Snapshots interface {
	Current() *gallery.Snapshot
}

const (
	DefaultFaceEveryN      = 2
	DefaultMaxReadFailures = 5
)

type Config struct {
	FaceEveryN      int
	MaxReadFailures int
}

func (c Config) withDefaults() Config {
	if c.FaceEveryN <= 0 {
		c.FaceEveryN = DefaultFaceEveryN
	}
	if c.MaxReadFailures <= 0 {
		c.MaxReadFailures = DefaultMaxReadFailures
	}
	return c
}

// Deps are the collaborators shared by every session of a manager.
// Faces and Symbols may be nil to disable a modality.
type Deps struct {
	Gallery     Snapshots
	Faces       FaceAnalyzer
	Symbols     SymbolDecoder
	FaceMatcher *match.FaceMatcher
	QRMatcher   *match.QRMatcher
	Engine      *attendance.Engine
	Stabilizer  *tracking.Stabilizer
	Now         func() time.Time
}

// Session owns one opened capture source until it stops or fails.
type Session struct {
	id     uuid.UUID
	cfg    Config
	deps   Deps
	source capture.Source

	stopOnce   sync.Once
	stopCh     chan struct{}
	cancelRead context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once

	mu     sync.Mutex
	status models.SessionStatus
}

func newSession(source capture.Source, deps Deps, cfg Config) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	id := uuid.New()
	return &Session{
		id:     id,
		cfg:    cfg.withDefaults(),
		deps:   deps,
		source: source,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		status: models.SessionStatus{ID: id, State: models.SessionIdle},
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

// Status returns a copy of the current status.
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed once the loop has exited and the source is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop asks the loop to end at the next frame boundary. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		cancel := s.cancelRead
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// open acquires the device. On failure the session is failed and the source released.
func (s *Session) open(ctx context.Context) error {
	if err := s.source.Open(ctx); err != nil {
		s.release()
		s.finish(models.SessionFailed, err)
		close(s.done)
		return fmt.Errorf("open capture: %w", err)
	}
	now := s.deps.Now()
	s.mu.Lock()
	s.status.State = models.SessionRunning
	s.status.StartedAt = &now
	s.mu.Unlock()
	observability.SessionState.Set(1)

	if err := s.deps.Engine.Rehydrate(ctx, now); err != nil {
		slog.Warn("rehydrate dedup guard", "session_id", s.id, "error", err)
	}
	s.deps.Stabilizer.Reset()
	return nil
}

// run is the frame loop. The source is released before the terminal state is
// published, so a caller that observes stopped or failed may reopen the device.
func (s *Session) run(ctx context.Context) {
	readCtx, cancelRead := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelRead = cancelRead
	s.mu.Unlock()

	defer close(s.done)

	state, cause := s.loop(ctx, readCtx)
	cancelRead()
	s.release()
	s.finish(state, cause)
}

func (s *Session) loop(ctx, readCtx context.Context) (models.SessionState, error) {
	select {
	case <-s.stopCh:
		// Stop was requested before the loop started.
		return models.SessionStopped, nil
	default:
	}

	slog.Info("session running", "session_id", s.id)

	var (
		failures int
		cycle    uint64
	)
	for {
		if s.stopping(ctx) {
			return models.SessionStopped, nil
		}

		frame, err := s.source.Next(readCtx)
		if err != nil {
			switch {
			case s.stopping(ctx):
				return models.SessionStopped, nil
			case errors.Is(err, capture.ErrEndOfStream):
				slog.Info("capture stream ended", "session_id", s.id)
				return models.SessionStopped, nil
			}
			failures++
			observability.FrameReadFailures.Inc()
			slog.Warn("frame read failed", "session_id", s.id, "consecutive", failures, "error", err)
			if failures >= s.cfg.MaxReadFailures {
				return models.SessionFailed, fmt.Errorf("%d consecutive read failures: %w", failures, err)
			}
			continue
		}
		failures = 0

		// Read at the frame boundary: a reload during Next applies to this frame.
		snap := s.deps.Gallery.Current()
		if err := s.processSafely(ctx, snap, frame, cycle); err != nil {
			return models.SessionFailed, err
		}
		cycle++
	}
}

func (s *Session) stopping(ctx context.Context) bool {
	select {
	case <-s.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *Session) processSafely(ctx context.Context, snap *gallery.Snapshot, frame capture.Frame, cycle uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in frame processing", "session_id", s.id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("frame processing panic: %v", r)
		}
	}()
	s.processFrame(ctx, snap, frame, cycle)
	return nil
}

// processFrame runs both matchers, credits fresh resolutions and updates the overlay.
func (s *Session) processFrame(ctx context.Context, snap *gallery.Snapshot, frame capture.Frame, cycle uint64) {
	start := time.Now()
	now := frame.CapturedAt
	if now.IsZero() {
		now = s.deps.Now()
	}

	if err := s.deps.Engine.EnsureDate(ctx, now); err != nil {
		slog.Warn("roll dedup guard to new day", "session_id", s.id, "error", err)
	}

	var candidates []match.Candidate

	if s.deps.Symbols != nil && s.deps.QRMatcher != nil {
		qrStart := time.Now()
		payloads, err := s.deps.Symbols.Decode(frame.Image)
		if err != nil {
			slog.Debug("qr decode", "error", err)
		}
		for _, p := range payloads {
			res := s.deps.QRMatcher.Match(snap, p, now)
			observability.QRPayloads.WithLabelValues(string(res.Outcome)).Inc()
			if res.Outcome == match.QRMiss {
				slog.Debug("qr payload not in token map", "session_id", s.id)
			}
			if c := match.QRCandidate(res, now); c.Resolved {
				candidates = append(candidates, c)
			}
		}
		observability.StageDuration.WithLabelValues("qr").Observe(time.Since(qrStart).Seconds())
	}

	var dets []tracking.Detection
	if s.deps.Faces != nil && s.deps.FaceMatcher != nil && cycle%uint64(s.cfg.FaceEveryN) == 0 {
		faceStart := time.Now()
		faces, err := s.deps.Faces.Faces(ctx, frame.Image)
		if err != nil {
			slog.Warn("face analysis", "session_id", s.id, "error", err)
		}
		for _, f := range faces {
			res := s.deps.FaceMatcher.Match(snap, match.ToFloat64(f.Embedding))
			c := match.FaceCandidate(f.Box, res, now)
			if c.Resolved {
				observability.FacesMatched.WithLabelValues("identified").Inc()
				candidates = append(candidates, c)
			} else {
				observability.FacesMatched.WithLabelValues("unidentified").Inc()
			}
			dets = append(dets, tracking.Detection{Box: c.Box, IdentityID: c.IdentityID, Name: c.Name, Score: c.Score})
		}
		observability.StageDuration.WithLabelValues("face").Observe(time.Since(faceStart).Seconds())
	}

	for _, c := range candidates {
		res, err := s.deps.Engine.Credit(ctx, attendance.Claim{
			IdentityID: c.IdentityID,
			Name:       c.Name,
			Method:     c.Method,
			Confidence: c.Score,
			At:         c.At,
			Frame:      frame.JPEG,
		})
		if err != nil {
			slog.Error("record attendance", "session_id", s.id, "identity_id", c.IdentityID, "method", c.Method, "error", err)
			continue
		}
		if res.Outcome == attendance.OutcomeRecorded {
			s.mu.Lock()
			s.status.Credits++
			s.mu.Unlock()
		}
	}

	s.deps.Stabilizer.Update(now, dets)

	s.mu.Lock()
	s.status.Frames++
	s.mu.Unlock()
	observability.FramesProcessed.Inc()
	observability.StageDuration.WithLabelValues("frame").Observe(time.Since(start).Seconds())
}

func (s *Session) finish(state models.SessionState, cause error) {
	now := s.deps.Now()
	s.mu.Lock()
	s.status.State = state
	s.status.EndedAt = &now
	if cause != nil {
		s.status.Error = cause.Error()
	}
	s.mu.Unlock()
	observability.SessionState.Set(0)

	if cause != nil {
		slog.Error("session failed", "session_id", s.id, "error", cause)
		return
	}
	slog.Info("session stopped", "session_id", s.id)
}

func (s *Session) release() {
	s.closeOnce.Do(func() {
		if err := s.source.Close(); err != nil {
			slog.Warn("release capture source", "session_id", s.id, "error", err)
		}
	})
}
