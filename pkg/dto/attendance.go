package dto

import (
	"fmt"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02T15:04:05Z07:00"
)

type EventResponse struct {
	ID          int64   `json:"id"`
	StudentID   int64   `json:"student_id"`
	Name        string  `json:"name,omitempty"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	RecordedAt  string  `json:"recorded_at"`
	Method      string  `json:"method"`
	Status      string  `json:"status"`
	Confidence  float64 `json:"confidence"`
	SnapshotURL string  `json:"snapshot_url,omitempty"`
}

// NewEventResponse renders ev for the API and WebSocket feed.
func NewEventResponse(ev models.AttendanceEvent) EventResponse {
	resp := EventResponse{
		ID:         ev.ID,
		StudentID:  ev.IdentityID,
		Name:       ev.Name,
		Date:       ev.Date.Format(dateLayout),
		Time:       ev.TimeOfDay(),
		RecordedAt: ev.RecordedAt.Format(timeLayout),
		Method:     string(ev.Method),
		Status:     string(ev.Status),
		Confidence: ev.Confidence,
	}
	if ev.SnapshotKey != "" {
		resp.SnapshotURL = fmt.Sprintf("/v1/attendance/%d/snapshot", ev.ID)
	}
	return resp
}

type EventListResponse struct {
	Date   string          `json:"date"`
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

type SummaryResponse struct {
	Date           string         `json:"date"`
	Total          int            `json:"total"`
	UniqueStudents int            `json:"unique_students"`
	ByMethod       map[string]int `json:"by_method"`
	ByStatus       map[string]int `json:"by_status"`
}

// WSEvent is a WebSocket message for real-time delivery.
type WSEvent struct {
	Type string        `json:"type"` // attendance_recorded
	Data EventResponse `json:"data"`
}

const WSAttendanceRecorded = "attendance_recorded"
