package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc answers one websocket request.
type HandlerFunc func(ctx context.Context, client *Client, req WebsocketRequest) error

// HandlerRegistry routes websocket requests to handlers by message type.
type HandlerRegistry struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers handler for messageType. Each type can be registered once.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

// Get retrieves a handler function by message type.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[messageType]
	return handler, ok
}

// MessageTypes returns all registered message types, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch decodes one text message and runs its handler. Malformed messages and
// unknown types are answered with an error response instead.
func (r *HandlerRegistry) Dispatch(ctx context.Context, client *Client, message []byte) error {
	var req WebsocketRequest
	if err := json.Unmarshal(message, &req); err != nil {
		SendErrorResponse(client, "", "PARSE_ERROR", "Invalid message format")
		return fmt.Errorf("parse request: %w", err)
	}

	handler, ok := r.Get(req.Type)
	if !ok {
		return SendErrorResponse(client, req.ID, "UNKNOWN_TYPE", fmt.Sprintf("Unknown message type: %s", req.Type))
	}
	if err := handler(ctx, client, req); err != nil {
		return fmt.Errorf("handler for message type '%s': %w", req.Type, err)
	}
	return nil
}
