package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Message is the JSON frame exchanged with clients.
type Message struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// MessageHandler handles an inbound message of one type.
type MessageHandler func(client *Client, msg *Message)

// Hub tracks connected clients and routes messages to and from them.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex

	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan *Message

	handlers   map[string]MessageHandler
	handlersMu sync.RWMutex

	logger *zap.Logger
	done   chan struct{}
}

// NewHub creates a new Hub
func NewHub(logger ...*zap.Logger) *Hub {
	l := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *Message, 256),
		handlers:   make(map[string]MessageHandler),
		logger:     l.Named("websocket"),
		done:       make(chan struct{}),
	}
}

// Run serves the register, unregister and broadcast channels until ctx is
// done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case msg := <-h.Broadcast:
			h.SendToAll(msg)
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

// Leave unregisters client without blocking once the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	old, exists := h.clients[client.ID]
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()

	if exists && old != client {
		old.close()
	}
	h.logger.Debug("client connected", zap.String("client_id", client.ID), zap.Int("clients", count))
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
	}
	count := len(h.clients)
	h.mu.Unlock()

	client.close()
	h.logger.Debug("client disconnected", zap.String("client_id", client.ID), zap.Int("clients", count))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// RegisterHandler routes inbound messages of msgType to handler.
func (h *Hub) RegisterHandler(msgType string, handler MessageHandler) {
	h.handlersMu.Lock()
	h.handlers[msgType] = handler
	h.handlersMu.Unlock()
}

// HandleMessage dispatches msg to its handler. Unknown types are answered
// with an error frame.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.handlersMu.RLock()
	handler, ok := h.handlers[msg.Type]
	h.handlersMu.RUnlock()

	if !ok {
		h.logger.Debug("unknown message type", zap.String("client_id", client.ID), zap.String("type", msg.Type))
		client.SendMessage(&Message{
			Type: "error",
			Data: map[string]interface{}{"message": "unknown message type: " + msg.Type},
		})
		return
	}
	handler(client, msg)
}

// SendToUser queues msg for the client with id.
func (h *Hub) SendToUser(id string, msg *Message) {
	if client, ok := h.GetClient(id); ok {
		client.SendMessage(msg)
	}
}

// SendToAll queues msg for every connected client.
func (h *Hub) SendToAll(msg *Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}

// GetClient returns the client with id.
func (h *Hub) GetClient(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is a single websocket connection.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan *Message

	hub    *Hub
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client bound to hub.
func NewClient(id string, conn *websocket.Conn, hub *Hub, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ID:     id,
		Conn:   conn,
		Send:   make(chan *Message, sendBufferSize),
		hub:    hub,
		logger: logger.With(zap.String("client_id", id)),
	}
}

// SendMessage queues msg without blocking. Messages for a client whose
// buffer is full are dropped.
func (c *Client) SendMessage(msg *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message", zap.String("type", msg.Type))
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// ReadPump reads frames from the connection and dispatches them to the hub
// until the connection fails. It unregisters the client on return.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.hub.HandleMessage(c, &msg)
	}
}

// WritePump writes queued messages and keepalive pings until Send is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
