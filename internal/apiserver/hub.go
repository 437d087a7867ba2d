package apiserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// progressClient is one websocket connection subscribed to a single
// project's migration progress events.
type progressClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	projectID string
}

// Hub fans migration progress events out to every websocket client
// currently subscribed to the event's project.
type Hub struct {
	clients    map[*progressClient]bool
	broadcast  chan projectEvent
	register   chan *progressClient
	unregister chan *progressClient
	mu         sync.RWMutex
	logger     *zap.Logger
	running    bool
}

type projectEvent struct {
	projectID string
	payload   []byte
}

// NewHub creates a new progress-event hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*progressClient]bool),
		broadcast:  make(chan projectEvent, 256),
		register:   make(chan *progressClient),
		unregister: make(chan *progressClient),
		logger:     logger,
	}
}

// Run starts the hub's main loop. Call it from its own goroutine.
func (h *Hub) Run() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if client.projectID != event.projectID {
					continue
				}
				select {
				case client.send <- event.payload:
				default:
					h.mu.RUnlock()
					h.unregister <- client
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop closes every client connection and marks the hub not running.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	for client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*progressClient]bool)
}

// BroadcastMigrationEvent sends a typed migration status event to every
// client subscribed to projectID.
func (h *Hub) BroadcastMigrationEvent(projectID string, revision int64, status string) {
	event := map[string]interface{}{
		"type":      "migration_status",
		"projectId": projectID,
		"revision":  revision,
		"status":    status,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal migration event", zap.Error(err))
		return
	}

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	select {
	case h.broadcast <- projectEvent{projectID: projectID, payload: payload}:
	default:
		h.logger.Warn("progress broadcast channel full, dropping event", zap.String("project_id", projectID))
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

func (c *progressClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *progressClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
