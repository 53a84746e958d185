package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionRunning SessionState = "running"
	SessionStopped SessionState = "stopped"
	SessionFailed  SessionState = "failed"
)

// SessionStatus is the externally visible view of a capture session.
type SessionStatus struct {
	ID        uuid.UUID    `json:"id"`
	State     SessionState `json:"state"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	Frames    uint64       `json:"frames"`
	Credits   uint64       `json:"credits"`
	Error     string       `json:"error,omitempty"`
}
