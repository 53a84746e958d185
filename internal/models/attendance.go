package models

import "time"

// Method is the channel an identity was resolved through.
type Method string

const (
	MethodFace Method = "rostro"
	MethodQR   Method = "qr"
)

func (m Method) Valid() bool {
	return m == MethodFace || m == MethodQR
}

// Status is the punctuality classification of a credit.
type Status string

const (
	StatusPresent Status = "presente"
	StatusLate    Status = "tardanza"
	// StatusAbsent is only written by manual registration and reports.
	StatusAbsent Status = "ausente"
)

// AttendanceEvent is a persisted credit. Immutable once written.
type AttendanceEvent struct {
	ID          int64     `json:"id" db:"id"`
	IdentityID  int64     `json:"identity_id" db:"estudiante_id"`
	Name        string    `json:"name" db:"-"`
	Date        time.Time `json:"date" db:"fecha"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
	Method      Method    `json:"method" db:"metodo_deteccion"`
	Confidence  float64   `json:"confidence" db:"confianza"`
	Status      Status    `json:"status" db:"estado"`
	SnapshotKey string    `json:"snapshot_key,omitempty" db:"snapshot_key"`
}

// TimeOfDay renders the wall-clock time of the credit.
func (e AttendanceEvent) TimeOfDay() string {
	return e.RecordedAt.Format("15:04:05")
}

// DateOf truncates t to local midnight of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Policy is the entry-time configuration used to classify lateness.
type Policy struct {
	EntryTime        time.Duration `json:"entry_time"` // offset from midnight
	ToleranceMinutes int           `json:"tolerance_minutes"`
}

// DefaultPolicy applies when no configuration row exists.
var DefaultPolicy = Policy{
	EntryTime:        8 * time.Hour,
	ToleranceMinutes: 15,
}

// Cutoff is the last instant (offset from midnight) still classified on time.
func (p Policy) Cutoff() time.Duration {
	return p.EntryTime + time.Duration(p.ToleranceMinutes)*time.Minute
}
