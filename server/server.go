// Package server provides the optional local event server: every session event is
// broadcast to WebSocket clients, and a small JSON API reports the agent status and
// the last successful read.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/nedpals/davi-felica-agent/session"
)

const (
	// ShutdownTimeout bounds the graceful HTTP shutdown in Stop.
	ShutdownTimeout = 3 * time.Second

	// WriteTimeout bounds each WebSocket write unless Config overrides it.
	WriteTimeout = 2 * time.Second
)

// Config holds the server configuration
type Config struct {
	Port int
	MDNS bool

	// Reader describes the open reader in status responses
	Reader string

	// WriteTimeout bounds each WebSocket write. Zero means WriteTimeout.
	WriteTimeout time.Duration
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config     Config
	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader
	clients    *WebsocketClientManager
	handlers   *HandlerRegistry
	logger     *log.Logger
	now        func() time.Time

	lastRead   *session.Event
	lastReadMu sync.RWMutex

	// mDNS service for auto-discovery
	mdnsServer *zeroconf.Server
}

// New creates a new server instance
func New(config Config) *Server {
	logger := log.New(os.Stderr, "[server] ", log.LstdFlags)
	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		clients:  NewClientManager(logger),
		handlers: NewHandlerRegistry(),
		logger:   logger,
		now:      time.Now,
	}
	s.registerHandlers()
	return s
}

// Report broadcasts the event to every client and remembers successful reads.
func (s *Server) Report(ctx context.Context, ev session.Event) {
	if ev.Type == session.EventReadSuccess {
		s.lastReadMu.Lock()
		s.lastRead = &ev
		s.lastReadMu.Unlock()
	}
	s.clients.broadcast(eventMessage(ev))
}

// LastRead returns the most recent successful read.
func (s *Server) LastRead() (session.Event, bool) {
	s.lastReadMu.RLock()
	defer s.lastReadMu.RUnlock()
	if s.lastRead == nil {
		return session.Event{}, false
	}
	return *s.lastRead, true
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API v1 routes
	apiV1 := "/api/v1"
	mux.HandleFunc(apiV1+"/health", enableCORS(getOnly(s.handleHealthCheck)))
	mux.HandleFunc(apiV1+"/last-read", enableCORS(getOnly(s.handleLastRead)))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("FeliCa Agent Server Running"))
	}))
	return mux
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Printf("Starting server on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()

	if s.config.MDNS {
		// Register mDNS service for auto-discovery
		if err := s.startMDNS(); err != nil {
			s.logger.Printf("Warning: Failed to start mDNS service: %v", err)
			s.logger.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}
	return nil
}

// Addr returns the listening address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop() {
	// Shutdown mDNS service
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		s.logger.Printf("mDNS service stopped")
	}

	// Hijacked websocket connections are not closed by Shutdown.
	s.clients.CloseAll()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("Server shutdown error: %v", err)
		}
		s.httpServer = nil
	}
}

// startMDNS registers the agent as an mDNS service for auto-discovery
func (s *Server) startMDNS() error {
	port := s.config.Port
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	txtRecords := []string{
		"version=1.0",
		"protocol=websocket",
		"path=/ws",
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.logger.Printf("mDNS service registered: %s on port %d", MDNSServiceName, port)
	return nil
}

// handleWebSocket upgrades HTTP connections to WebSocket connections and manages
// the client connection lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	timeout := s.config.WriteTimeout
	if timeout <= 0 {
		timeout = WriteTimeout
	}
	client := newClient(conn, timeout)
	s.logger.Printf("WebSocket connected from %s", r.RemoteAddr)

	defer func() {
		s.clients.Unregister(client)
		client.Close()
		s.logger.Printf("WebSocket disconnected from %s", r.RemoteAddr)
	}()

	s.clients.Register(client)

	// Send initial status
	if err := client.WriteJSON(WebsocketMessage{Type: WSMessageTypeStatus, Payload: s.status()}); err != nil {
		return
	}

	// Keep connection alive and handle incoming requests
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := s.handlers.Dispatch(r.Context(), client, message); err != nil {
			s.logger.Printf("WebSocket request from %s: %v", r.RemoteAddr, err)
		}
	}
}
