package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HJ8A/proyecto-asistencia/internal/capture"
	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/session"
)

type fakeController struct {
	startErr  error
	reloadErr error
	state     models.SessionState
	stops     int
}

func (f *fakeController) Start(context.Context) (models.SessionStatus, error) {
	if f.startErr != nil {
		return models.SessionStatus{State: f.state}, f.startErr
	}
	f.state = models.SessionRunning
	return models.SessionStatus{State: f.state}, nil
}

func (f *fakeController) Stop() models.SessionStatus {
	f.stops++
	f.state = models.SessionStopped
	return models.SessionStatus{State: f.state}
}

func (f *fakeController) ReloadGallery(context.Context) (*gallery.Snapshot, error) {
	snap := gallery.Build([]models.GalleryEntry{
		{IdentityID: 1, Name: "Ana Quispe", Embedding: []float64{1, 0}},
		{IdentityID: 2, Name: "Luis Mamani", Embedding: []float64{0, 1}},
	}, nil, 7, time.Now())
	return snap, f.reloadErr
}

func (f *fakeController) Status() models.SessionStatus {
	return models.SessionStatus{State: f.state}
}

func request(t *testing.T, action string) []byte {
	t.Helper()
	data, err := json.Marshal(ControlRequest{Action: action})
	require.NoError(t, err)
	return data
}

func TestHandleControlStartStop(t *testing.T) {
	ctrl := &fakeController{state: models.SessionIdle}

	reply := HandleControl(context.Background(), ctrl, request(t, ActionStart))
	assert.True(t, reply.OK)
	assert.Equal(t, models.SessionRunning, reply.Session.State)

	reply = HandleControl(context.Background(), ctrl, request(t, ActionStop))
	assert.True(t, reply.OK)
	assert.Equal(t, models.SessionStopped, reply.Session.State)
	assert.Equal(t, 1, ctrl.stops)

	reply = HandleControl(context.Background(), ctrl, request(t, ActionStatus))
	assert.True(t, reply.OK)
	assert.Equal(t, models.SessionStopped, reply.Session.State)
}

func TestHandleControlStartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "already running", err: fmt.Errorf("start session: %w", session.ErrSessionActive), code: CodeSessionActive},
		{name: "no camera", err: fmt.Errorf("start session: %w", capture.ErrDeviceUnavailable), code: CodeDeviceUnavailable},
		{name: "other", err: errors.New("boom"), code: CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{startErr: tt.err, state: models.SessionFailed}
			reply := HandleControl(context.Background(), ctrl, request(t, ActionStart))
			assert.False(t, reply.OK)
			assert.Equal(t, tt.code, reply.Code)
			assert.NotEmpty(t, reply.Error)
		})
	}
}

func TestHandleControlReload(t *testing.T) {
	ctrl := &fakeController{state: models.SessionRunning}
	reply := HandleControl(context.Background(), ctrl, request(t, ActionReload))
	assert.True(t, reply.OK)
	assert.Equal(t, uint64(7), reply.GalleryVersion)
	assert.Equal(t, 2, reply.GallerySize)

	// The previous snapshot is still reported when a reload fails.
	ctrl.reloadErr = errors.New("db down")
	reply = HandleControl(context.Background(), ctrl, request(t, ActionReload))
	assert.False(t, reply.OK)
	assert.Equal(t, CodeReloadFailed, reply.Code)
	assert.Equal(t, 2, reply.GallerySize)
}

func TestHandleControlRejectsBadInput(t *testing.T) {
	ctrl := &fakeController{state: models.SessionIdle}

	reply := HandleControl(context.Background(), ctrl, []byte("{not json"))
	assert.False(t, reply.OK)
	assert.Equal(t, CodeBadRequest, reply.Code)

	reply = HandleControl(context.Background(), ctrl, request(t, "pause"))
	assert.False(t, reply.OK)
	assert.Equal(t, CodeBadRequest, reply.Code)
	assert.Equal(t, models.SessionIdle, reply.Session.State)
}

func TestAttendanceSubject(t *testing.T) {
	assert.Equal(t, "attendance.rostro", AttendanceSubject(models.MethodFace))
	assert.Equal(t, "attendance.qr", AttendanceSubject(models.MethodQR))
}
