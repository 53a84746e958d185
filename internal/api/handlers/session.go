package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HJ8A/proyecto-asistencia/internal/queue"
	"github.com/HJ8A/proyecto-asistencia/pkg/dto"
)

// Controller forwards a control action to the kiosk.
type Controller interface {
	RequestControl(ctx context.Context, action string) (queue.ControlReply, error)
}

type SessionHandler struct {
	ctrl    Controller
	timeout time.Duration
}

func NewSessionHandler(ctrl Controller) *SessionHandler {
	return &SessionHandler{ctrl: ctrl, timeout: 20 * time.Second}
}

func (h *SessionHandler) Start(c *gin.Context) {
	h.forward(c, queue.ActionStart)
}

func (h *SessionHandler) Stop(c *gin.Context) {
	h.forward(c, queue.ActionStop)
}

func (h *SessionHandler) Status(c *gin.Context) {
	h.forward(c, queue.ActionStatus)
}

// ReloadGallery asks the kiosk to rebuild its gallery from the database.
func (h *SessionHandler) ReloadGallery(c *gin.Context) {
	reply, ok := h.request(c, queue.ActionReload)
	if !ok {
		return
	}
	resp := dto.GalleryResponse{Version: reply.GalleryVersion, Size: reply.GallerySize}
	if !reply.OK {
		c.JSON(replyStatus(reply.Code), gin.H{"error": reply.Error, "gallery": resp})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) forward(c *gin.Context, action string) {
	reply, ok := h.request(c, action)
	if !ok {
		return
	}
	if !reply.OK {
		c.JSON(replyStatus(reply.Code), gin.H{"error": reply.Error, "session": reply.Session})
		return
	}
	c.JSON(http.StatusOK, dto.SessionResponse{Session: reply.Session})
}

func (h *SessionHandler) request(c *gin.Context, action string) (queue.ControlReply, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	reply, err := h.ctrl.RequestControl(ctx, action)
	if err != nil {
		slog.Warn("kiosk control request failed", "action", action, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "kiosk unreachable: " + err.Error()})
		return queue.ControlReply{}, false
	}
	return reply, true
}

func replyStatus(code string) int {
	switch code {
	case queue.CodeBadRequest:
		return http.StatusBadRequest
	case queue.CodeSessionActive:
		return http.StatusConflict
	case queue.CodeDeviceUnavailable, queue.CodeReloadFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
