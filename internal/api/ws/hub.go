package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/observability"
	"github.com/HJ8A/proyecto-asistencia/pkg/dto"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	method string // optional filter: rostro | qr
}

// Hub maintains active WebSocket clients and broadcasts credited events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *dto.WSEvent
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *dto.WSEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns when ctx is done, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", client.method)

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				slog.Error("marshal ws event", "error", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				if client.method != "" && client.method != evt.Data.Method {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Slow consumer.
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAttendance fans a recorded event out to connected clients.
func (h *Hub) BroadcastAttendance(ctx context.Context, ev models.AttendanceEvent) error {
	select {
	case h.broadcast <- &dto.WSEvent{Type: dto.WSAttendanceRecorded, Data: dto.NewEventResponse(ev)}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleWS handles WebSocket upgrade requests. ?method= narrows the feed.
func (h *Hub) HandleWS(c *gin.Context) {
	method := c.Query("method")
	if method != "" && !models.Method(method).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "method must be rostro or qr"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		method: method,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		// Incoming messages are ignored; the read only detects disconnection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
