package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The studio front-end is served from a different origin during
	// development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub fans bus events out to connected WebSocket observers. A slow
// observer is disconnected rather than allowed to stall the others.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub creates a Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

// Run consumes bus events and distributes them until the channel closes.
func (h *Hub) Run(events <-chan Event) {
	for event := range events {
		h.mu.Lock()
		for c := range h.clients {
			select {
			case c.send <- event:
			default:
				// Observer too slow: drop it.
				close(c.send)
				delete(h.clients, c)
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
}

// ServeHTTP upgrades the request to a WebSocket connection and streams
// events to it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Event, 32)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("observer connected")

	go h.writePump(c)
	go h.readPump(c)
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump discards inbound frames; the event stream is one-way. It exists
// to detect closed connections promptly.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
