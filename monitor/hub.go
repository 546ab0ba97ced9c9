package monitor

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nanocal/nanodaq/acquire"
	"github.com/nanocal/nanodaq/experiment"
)

// SendQueue is the number of messages buffered per client.  Messages to a client
// whose queue is full are dropped, so a slow browser never stalls the reader.
const SendQueue = 16

const writeWait = 5 * time.Second

type client struct {
	conn *websocket.Conn
	send chan Message
}

// writePump sends queued messages until the queue is closed or a write fails
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Hub broadcasts messages to websocket clients.  It is an http.Handler that
// upgrades every request, an acquire.Observer, and an experiment.Listener.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
	closed  bool
}

// NewHub returns an empty hub that accepts connections from any origin
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
		clients: make(map[*client]bool),
	}
}

// ServeHTTP upgrades the connection and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan Message, SendQueue)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()
	log.Printf("monitor: client %s connected", conn.RemoteAddr())
	go c.writePump()
	// reads only detect the client going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(c)
				return
			}
		}
	}()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients is the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("monitor: client %s is behind, dropped a %s message", c.conn.RemoteAddr(), msg.Type)
		}
	}
}

// Drained broadcasts a summary of d
func (h *Hub) Drained(d acquire.Drain) {
	h.Broadcast(drainMessage(d))
}

// StateChanged broadcasts the new state
func (h *Hub) StateChanged(s experiment.State) {
	h.Broadcast(stateMessage(s))
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}
