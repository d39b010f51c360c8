package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// event is the envelope broadcast to every connected WebSocket client (spec
// §6): new_delivery (on admission), driver_dispatched (per vehicle given a
// route by the routing pass that follows an admission), and
// full_routes_update. After a manual `update_routes` call, full_routes_update
// carries, as one list, the plans committed by that pass; after
// `advance_time`, one full_routes_update is sent per plan committed by that
// pass. Neither is a snapshot of every vehicle's current route. The
// driver_returned and delivery_completed transitions happen inside
// ProcessEventsDue and are not broadcast.
type event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected WebSocket subscriber.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// hub fans lifecycle events out to every connected client, dropping the
// message for any client whose send buffer is full rather than blocking the
// broadcaster on a slow consumer (spec §5).
type hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{clients: make(map[string]*wsClient), logger: logger}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// broadcast sends an envelope of the given type to every connected client.
func (h *hub) broadcast(eventType string, data any) {
	body, err := json.Marshal(event{Type: eventType, Timestamp: time.Now(), Data: data})
	if err != nil {
		h.logger.Warn("failed to marshal websocket event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- body:
		default:
			h.logger.Warn("dropping websocket event for slow client", "client_id", c.id, "type", eventType)
		}
	}
}

// handleWebSocket implements GET /ws/{client_id}. A missing client_id is
// assigned one.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ws/")
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{id: id, conn: conn, send: make(chan []byte, 32), done: make(chan struct{})}
	s.hub.register(c)
	s.logger.Info("websocket client connected", "client_id", id)

	go s.wsWritePump(c)
	go s.wsReadPump(c)
}

func (s *Server) wsReadPump(c *wsClient) {
	defer func() {
		s.hub.unregister(c.id)
		close(c.done)
		c.conn.Close()
		s.logger.Info("websocket client disconnected", "client_id", c.id)
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWritePump(c *wsClient) {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
