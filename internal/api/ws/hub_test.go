package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/pkg/dto"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func event(id int64, method models.Method) models.AttendanceEvent {
	at := time.Date(2026, 3, 2, 8, 3, 0, 0, time.Local)
	return models.AttendanceEvent{
		ID: id, IdentityID: 10, Name: "Ana Quispe", Date: models.DateOf(at), RecordedAt: at,
		Method: method, Confidence: 0.91, Status: models.StatusPresent,
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestBroadcastAttendance(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.BroadcastAttendance(context.Background(), event(5, models.MethodFace)))

	evt := readEvent(t, conn)
	assert.Equal(t, dto.WSAttendanceRecorded, evt.Type)
	assert.Equal(t, int64(5), evt.Data.ID)
	assert.Equal(t, "rostro", evt.Data.Method)
	assert.Equal(t, "08:03:00", evt.Data.Time)
	assert.Equal(t, "Ana Quispe", evt.Data.Name)
}

func TestMethodFilter(t *testing.T) {
	hub, url := startHub(t)
	qrOnly := dial(t, url+"?method=qr")
	all := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.BroadcastAttendance(context.Background(), event(1, models.MethodFace)))
	require.NoError(t, hub.BroadcastAttendance(context.Background(), event(2, models.MethodQR)))

	assert.Equal(t, int64(1), readEvent(t, all).Data.ID)
	assert.Equal(t, int64(2), readEvent(t, all).Data.ID)
	assert.Equal(t, int64(2), readEvent(t, qrOnly).Data.ID, "face credit filtered out")
}

func TestHandleWSRejectsUnknownMethod(t *testing.T) {
	_, url := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?method=nfc", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
