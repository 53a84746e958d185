package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HJ8A/proyecto-asistencia/internal/attendance"
	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/storage"
	"github.com/HJ8A/proyecto-asistencia/pkg/dto"
)

const dateLayout = "2006-01-02"

// Reports lists the events of a day, most recent first.
type Reports interface {
	EventsOn(ctx context.Context, date time.Time) ([]models.AttendanceEvent, error)
}

type EventLookup interface {
	GetAttendance(ctx context.Context, id int64) (*models.AttendanceEvent, error)
}

type ObjectReader interface {
	GetObject(ctx context.Context, key string) ([]byte, string, error)
}

type AttendanceHandler struct {
	reports Reports
	events  EventLookup
	objects ObjectReader
	now     func() time.Time
}

func NewAttendanceHandler(reports Reports, events EventLookup, objects ObjectReader) *AttendanceHandler {
	return &AttendanceHandler{reports: reports, events: events, objects: objects, now: time.Now}
}

// Today lists today's credits.
func (h *AttendanceHandler) Today(c *gin.Context) {
	h.list(c, models.DateOf(h.now()))
}

// ByDate lists the credits of ?date=YYYY-MM-DD, defaulting to today.
func (h *AttendanceHandler) ByDate(c *gin.Context) {
	date, ok := h.parseDate(c)
	if !ok {
		return
	}
	h.list(c, date)
}

func (h *AttendanceHandler) TodaySummary(c *gin.Context) {
	h.summary(c, models.DateOf(h.now()))
}

// Summary aggregates ?date=YYYY-MM-DD, defaulting to today.
func (h *AttendanceHandler) Summary(c *gin.Context) {
	date, ok := h.parseDate(c)
	if !ok {
		return
	}
	h.summary(c, date)
}

// Snapshot streams the frame stored with a credit.
func (h *AttendanceHandler) Snapshot(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attendance id"})
		return
	}

	ev, err := h.events.GetAttendance(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil || ev.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	data, contentType, err := h.objects.GetObject(c.Request.Context(), ev.SnapshotKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *AttendanceHandler) list(c *gin.Context, date time.Time) {
	events, err := h.reports.EventsOn(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.EventListResponse{
		Date:   date.Format(dateLayout),
		Events: make([]dto.EventResponse, 0, len(events)),
		Total:  len(events),
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, dto.NewEventResponse(ev))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AttendanceHandler) summary(c *gin.Context, date time.Time) {
	events, err := h.reports.EventsOn(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s := attendance.Summarize(date, events)
	resp := dto.SummaryResponse{
		Date:           s.Date.Format(dateLayout),
		Total:          s.Total,
		UniqueStudents: s.UniqueIdentities,
		ByMethod:       make(map[string]int, len(s.ByMethod)),
		ByStatus:       make(map[string]int, len(s.ByStatus)),
	}
	for m, n := range s.ByMethod {
		resp.ByMethod[string(m)] = n
	}
	for st, n := range s.ByStatus {
		resp.ByStatus[string(st)] = n
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AttendanceHandler) parseDate(c *gin.Context) (time.Time, bool) {
	raw := c.Query("date")
	if raw == "" {
		return models.DateOf(h.now()), true
	}
	date, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return date, true
}
