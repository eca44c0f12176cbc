package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Client is one connected player. It satisfies Conn, so the processors
// can answer staged requests on it directly.
type Client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s (Total: %d)", client.userID, h.GetClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				log.Printf("[WS] Client disconnected: %s (Total: %d)", client.userID, len(h.clients))
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("[WS] Marshal error: %v", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				go client.write(data) // non-blocking fan-out
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast pushes an event to every connected client. Drops the event
// if the fan-out channel is full rather than stalling the round loop.
func (h *Hub) Broadcast(event string, data interface{}) {
	select {
	case h.broadcast <- Event{Type: event, Data: data}:
	default:
		log.Println("[WS] Broadcast channel full, dropping event " + event)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	client := &Client{conn: conn, userID: userID}
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// Send delivers a targeted event to this client only.
func (c *Client) Send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[WS] Send marshal error: %v", err)
		return
	}
	c.write(data)
}

func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) write(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] Write error for user %s: %v", c.userID, err)
	}
}
