package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketMessage represents a message sent to WebSocket clients.
type WebsocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebsocketRequest represents an incoming request from WebSocket clients.
type WebsocketRequest struct {
	ID      string         `json:"id,omitempty"` // Client-generated request ID
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// WebsocketResponse represents a response to a WebSocket request.
type WebsocketResponse struct {
	ID      string `json:"id,omitempty"` // Same as request ID
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client is one WebSocket connection. Writes are serialized since broadcasts and
// request handlers run on different goroutines.
type Client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newClient(conn *websocket.Conn, writeTimeout time.Duration) *Client {
	return &Client{conn: conn, writeTimeout: writeTimeout}
}

// WriteJSON sends v to the client. A client that does not drain the write
// within its timeout fails the write.
func (c *Client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendResponse answers req with a successful response carrying payload.
func SendResponse(c *Client, req WebsocketRequest, payload any) error {
	return c.WriteJSON(WebsocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: true,
		Payload: payload,
	})
}

// SendErrorResponse sends a structured error response to a WebSocket client.
func SendErrorResponse(c *Client, requestID, code, message string) error {
	return c.WriteJSON(WebsocketResponse{
		ID:      requestID,
		Type:    WSMessageTypeError,
		Success: false,
		Error:   message,
		Payload: map[string]any{
			"code": code,
		},
	})
}

// WebsocketClientManager manages WebSocket client connections and broadcasting.
type WebsocketClientManager struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewClientManager creates a new ClientManager instance.
func NewClientManager(logger *log.Logger) *WebsocketClientManager {
	return &WebsocketClientManager{
		clients: make(map[*Client]bool),
		logger:  logger,
	}
}

// Register adds a new client connection.
func (cm *WebsocketClientManager) Register(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[c] = true
}

// Unregister removes a client connection.
func (cm *WebsocketClientManager) Unregister(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, c)
}

// Count returns the number of connected clients.
func (cm *WebsocketClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll closes all client connections.
func (cm *WebsocketClientManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for client := range cm.clients {
		client.Close()
		delete(cm.clients, client)
	}
}

// broadcast sends a message to all connected clients. Clients that fail the
// write are dropped.
func (cm *WebsocketClientManager) broadcast(message WebsocketMessage) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for client := range cm.clients {
		if err := client.WriteJSON(message); err != nil {
			cm.logger.Printf("WebSocket write error: %v", err)
			client.Close()
			delete(cm.clients, client)
		}
	}
}
