package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"ruleta/internal/metrics"
)

const writeWait = 10 * time.Second

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Client struct {
	conn     Conn
	viewerID string
	mu       sync.Mutex
}

// Hub fans snapshots out to every connected viewer. Sends never block the caller.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("hub"),
	}
}

// Run owns the client set until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.WSClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(total))
			h.log.Debug("viewer connected", zap.String("viewer", client.viewerID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(total))
			h.log.Debug("viewer disconnected", zap.String("viewer", client.viewerID), zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				go h.deliver(client, message)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) deliver(c *Client, message []byte) {
	if err := c.send(message); err != nil {
		h.log.Debug("write failed, dropping viewer", zap.String("viewer", c.viewerID), zap.Error(err))
		select {
		case h.unregister <- c:
		case <-h.done:
		case <-time.After(writeWait):
		}
	}
}

// Broadcast queues a message for every client, dropping it when the queue is full.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("marshal broadcast", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("broadcast channel full, dropping message")
	}
}

func (h *Hub) BroadcastSnapshot(_ string, s Snapshot) {
	h.Broadcast(WSMessage{Type: MessageRoundUpdate, Data: s})
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RegisterClient(conn Conn, viewerID string) *Client {
	client := &Client{
		conn:     conn,
		viewerID: viewerID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
	}
	return client
}

func (h *Hub) UnregisterClient(conn Conn) {
	h.mu.RLock()
	for client := range h.clients {
		if client.conn == conn {
			h.mu.RUnlock()
			select {
			case h.unregister <- client:
			case <-h.done:
			}
			return
		}
	}
	h.mu.RUnlock()
}

func (c *Client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Send writes one message to this client only, serialized with hub deliveries.
func (c *Client) Send(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.send(data)
}

// SendSnapshot pushes the current round state right after connect.
func (c *Client) SendSnapshot(s Snapshot) error {
	return c.Send(WSMessage{Type: MessageRoundUpdate, Data: s})
}
