package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/observability"
)

// ErrDuplicate is returned by the store when the (identity, date, method) row
// already exists. Callers treat it as success.
var ErrDuplicate = errors.New("attendance already recorded")

// Store is the persistence the engine needs. InsertAttendance fills ev.ID and
// must be a single atomic insert.
type Store interface {
	GetPolicy(ctx context.Context) (*models.Policy, error)
	InsertAttendance(ctx context.Context, ev *models.AttendanceEvent) error
	ListAttendance(ctx context.Context, date time.Time) ([]models.AttendanceEvent, error)
}

// SnapshotStore receives the JPEG of the frame that produced a credit.
type SnapshotStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Publisher fans recorded events out to live consumers.
type Publisher interface {
	PublishAttendance(ctx context.Context, ev *models.AttendanceEvent) error
}

const retryBackoff = 200 * time.Millisecond

// Recorder writes one event. Snapshot upload and publishing are best effort.
type Recorder struct {
	store     Store
	snapshots SnapshotStore
	publisher Publisher
	retries   int
}

func NewRecorder(store Store, snapshots SnapshotStore, publisher Publisher, retries int) *Recorder {
	if retries < 0 {
		retries = 0
	}
	return &Recorder{store: store, snapshots: snapshots, publisher: publisher, retries: retries}
}

// Record persists ev. A conflicting row yields ErrDuplicate; any other error
// means nothing was written.
func (r *Recorder) Record(ctx context.Context, ev *models.AttendanceEvent, frame []byte) error {
	if r.snapshots != nil && len(frame) > 0 {
		key := snapshotKey(ev)
		if err := r.snapshots.PutObject(ctx, key, frame, "image/jpeg"); err != nil {
			slog.Warn("upload attendance snapshot", "identity_id", ev.IdentityID, "error", err)
		} else {
			ev.SnapshotKey = key
		}
	}

	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("insert attendance: %w", ctx.Err())
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
		err = r.store.InsertAttendance(ctx, ev)
		if err == nil || errors.Is(err, ErrDuplicate) {
			break
		}
		slog.Warn("insert attendance attempt failed", "attempt", attempt+1, "identity_id", ev.IdentityID, "error", err)
	}
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return err
		}
		observability.WriteFailures.Inc()
		return fmt.Errorf("insert attendance: %w", err)
	}

	if r.publisher != nil {
		if err := r.publisher.PublishAttendance(ctx, ev); err != nil {
			slog.Warn("publish attendance event", "event_id", ev.ID, "error", err)
		}
	}
	return nil
}

func snapshotKey(ev *models.AttendanceEvent) string {
	return fmt.Sprintf("snapshots/%s/%d-%s-%s.jpg",
		ev.Date.Format("2006-01-02"), ev.IdentityID, ev.Method, uuid.New().String())
}
