package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/observability"
)

// Claim is a fresh, current-frame resolution of an identity.
type Claim struct {
	IdentityID int64
	Name       string
	Method     models.Method
	Confidence float64
	At         time.Time
	Frame      []byte // JPEG, optional
}

type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result of a Credit call. Event is set only when recorded.
type Result struct {
	Outcome Outcome
	Event   *models.AttendanceEvent
}

// Summary aggregates one day of events.
type Summary struct {
	Date             time.Time             `json:"date"`
	Total            int                   `json:"total"`
	UniqueIdentities int                   `json:"unique_identities"`
	ByMethod         map[models.Method]int `json:"by_method"`
	ByStatus         map[models.Status]int `json:"by_status"`
}

// Engine ties the guard, classifier and recorder together.
type Engine struct {
	store    Store
	guard    *Guard
	recorder *Recorder
	now      func() time.Time
}

type Options struct {
	Scope        Scope
	WriteRetries int
	Snapshots    SnapshotStore
	Publisher    Publisher
	Now          func() time.Time
}

func NewEngine(store Store, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:    store,
		guard:    NewGuard(opts.Scope),
		recorder: NewRecorder(store, opts.Snapshots, opts.Publisher, opts.WriteRetries),
		now:      now,
	}
}

// Guard exposes the dedup state, mainly for status reporting.
func (e *Engine) Guard() *Guard { return e.guard }

// Rehydrate reloads the guard from the events already stored for the day of at.
func (e *Engine) Rehydrate(ctx context.Context, at time.Time) error {
	date := models.DateOf(at)
	events, err := e.store.ListAttendance(ctx, date)
	if err != nil {
		return fmt.Errorf("list attendance for guard: %w", err)
	}
	e.guard.Reset(date, events)
	slog.Info("dedup guard loaded", "date", date.Format("2006-01-02"), "entries", e.guard.Len())
	return nil
}

// EnsureDate rehydrates the guard when at falls on a different day than the one held.
func (e *Engine) EnsureDate(ctx context.Context, at time.Time) error {
	if e.guard.Date().Equal(models.DateOf(at)) {
		return nil
	}
	return e.Rehydrate(ctx, at)
}

// Credit records the claim unless the identity was already credited for the
// claim's day. A store conflict counts as a duplicate, not a failure.
func (e *Engine) Credit(ctx context.Context, c Claim) (Result, error) {
	if !c.Method.Valid() {
		return Result{}, fmt.Errorf("credit: invalid method %q", c.Method)
	}
	if c.IdentityID == 0 {
		return Result{}, fmt.Errorf("credit: missing identity")
	}
	if c.At.IsZero() {
		c.At = e.now()
	}
	date := models.DateOf(c.At)

	if e.guard.AlreadyCredited(c.IdentityID, c.Method, date) {
		observability.Duplicates.WithLabelValues(string(c.Method)).Inc()
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	ev := &models.AttendanceEvent{
		IdentityID: c.IdentityID,
		Name:       c.Name,
		Date:       date,
		RecordedAt: c.At,
		Method:     c.Method,
		Confidence: c.Confidence,
		Status:     Classify(c.At, e.policy(ctx)),
	}

	err := e.recorder.Record(ctx, ev, c.Frame)
	switch {
	case errors.Is(err, ErrDuplicate):
		e.guard.MarkCredited(c.IdentityID, c.Method, date)
		observability.Duplicates.WithLabelValues(string(c.Method)).Inc()
		return Result{Outcome: OutcomeDuplicate}, nil
	case err != nil:
		return Result{}, err
	}

	e.guard.MarkCredited(c.IdentityID, c.Method, date)
	observability.Credits.WithLabelValues(string(ev.Method), string(ev.Status)).Inc()
	slog.Info("attendance recorded",
		"event_id", ev.ID,
		"identity_id", ev.IdentityID,
		"name", ev.Name,
		"method", ev.Method,
		"status", ev.Status,
		"confidence", ev.Confidence,
	)
	return Result{Outcome: OutcomeRecorded, Event: ev}, nil
}

// policy is read on every call so configuration changes apply immediately.
func (e *Engine) policy(ctx context.Context) *models.Policy {
	p, err := e.store.GetPolicy(ctx)
	if err != nil {
		slog.Warn("read attendance policy, using default", "error", err)
		return nil
	}
	return p
}

// EventsOn lists the events of one day, most recent first.
func (e *Engine) EventsOn(ctx context.Context, date time.Time) ([]models.AttendanceEvent, error) {
	events, err := e.store.ListAttendance(ctx, models.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].RecordedAt.After(events[j].RecordedAt)
	})
	return events, nil
}

func (e *Engine) TodayEvents(ctx context.Context) ([]models.AttendanceEvent, error) {
	return e.EventsOn(ctx, e.now())
}

func (e *Engine) TodaySummary(ctx context.Context) (Summary, error) {
	today := models.DateOf(e.now())
	events, err := e.EventsOn(ctx, today)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(today, events), nil
}

// Summarize counts events by method and status.
func Summarize(date time.Time, events []models.AttendanceEvent) Summary {
	s := Summary{
		Date:     models.DateOf(date),
		Total:    len(events),
		ByMethod: map[models.Method]int{models.MethodFace: 0, models.MethodQR: 0},
		ByStatus: map[models.Status]int{models.StatusPresent: 0, models.StatusLate: 0},
	}
	ids := make(map[int64]struct{}, len(events))
	for _, ev := range events {
		ids[ev.IdentityID] = struct{}{}
		s.ByMethod[ev.Method]++
		s.ByStatus[ev.Status]++
	}
	s.UniqueIdentities = len(ids)
	return s
}
