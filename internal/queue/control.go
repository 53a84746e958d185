package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/HJ8A/proyecto-asistencia/internal/capture"
	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/session"
)

// ControlSubject carries start/stop/reload requests to the kiosk (raw NATS, request/reply).
const ControlSubject = "checkin.control"

const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionReload = "reload"
	ActionStatus = "status"
)

// Reply codes let the API map a failed action to an HTTP status.
const (
	CodeBadRequest        = "bad_request"
	CodeSessionActive     = "session_active"
	CodeDeviceUnavailable = "device_unavailable"
	CodeReloadFailed      = "reload_failed"
	CodeInternal          = "internal"
)

const controlTimeout = 15 * time.Second

type ControlRequest struct {
	Action string `json:"action"`
}

type ControlReply struct {
	OK             bool                 `json:"ok"`
	Error          string               `json:"error,omitempty"`
	Code           string               `json:"code,omitempty"`
	Session        models.SessionStatus `json:"session"`
	GalleryVersion uint64               `json:"gallery_version,omitempty"`
	GallerySize    int                  `json:"gallery_size,omitempty"`
}

// Controller is the session surface the kiosk exposes.
type Controller interface {
	Start(ctx context.Context) (models.SessionStatus, error)
	Stop() models.SessionStatus
	ReloadGallery(ctx context.Context) (*gallery.Snapshot, error)
	Status() models.SessionStatus
}

// ServeControl answers control requests until the subscription is drained.
func ServeControl(nc *nats.Conn, ctrl Controller) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(ControlSubject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		reply := HandleControl(ctx, ctrl, msg.Data)
		data, err := json.Marshal(reply)
		if err != nil {
			slog.Error("marshal control reply", "error", err)
			return
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Warn("respond to control request", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ControlSubject, err)
	}
	slog.Info("listening for control commands", "subject", ControlSubject)
	return sub, nil
}

// HandleControl executes one request.
func HandleControl(ctx context.Context, ctrl Controller, data []byte) ControlReply {
	var req ControlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ControlReply{Error: fmt.Sprintf("invalid control request: %v", err), Code: CodeBadRequest, Session: ctrl.Status()}
	}
	slog.Info("control command received", "action", req.Action)

	switch req.Action {
	case ActionStart:
		st, err := ctrl.Start(ctx)
		if err != nil {
			return ControlReply{Error: err.Error(), Code: startCode(err), Session: st}
		}
		return ControlReply{OK: true, Session: st}
	case ActionStop:
		return ControlReply{OK: true, Session: ctrl.Stop()}
	case ActionReload:
		snap, err := ctrl.ReloadGallery(ctx)
		reply := ControlReply{OK: err == nil, Session: ctrl.Status()}
		if err != nil {
			reply.Error = err.Error()
			reply.Code = CodeReloadFailed
		}
		if snap != nil {
			reply.GalleryVersion = snap.Version()
			reply.GallerySize = snap.Len()
		}
		return reply
	case ActionStatus:
		return ControlReply{OK: true, Session: ctrl.Status()}
	default:
		return ControlReply{Error: fmt.Sprintf("unknown action %q", req.Action), Code: CodeBadRequest, Session: ctrl.Status()}
	}
}

func startCode(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		return CodeSessionActive
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return CodeDeviceUnavailable
	default:
		return CodeInternal
	}
}
