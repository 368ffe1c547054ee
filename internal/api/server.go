// Package api provides a reference HTTP/WebSocket server that fans the
// progress event stream (internal/events.Bus) out to external observers.
// It is a reference adapter only: the Driver never imports this package,
// and nothing here feeds back into a run.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/darwin-lab/strategy-evolution/internal/events"
	"github.com/darwin-lab/strategy-evolution/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// maxHistory bounds how many past events a late-joining client replays.
const maxHistory = 1000

// Server is the reference progress HTTP/WebSocket server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	bus        *events.Bus
	sub        *events.Subscription
	addr       string
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	history    []events.Event
	metrics    *metrics.Registry
}

// Client is a connected WebSocket observer.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Subs map[string]bool
}

// Message is the envelope exchanged over the WebSocket connection, for
// both client requests (subscribe/unsubscribe/ping) and server-pushed
// progress events.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // request, response, event
	Method    string      `json:"method,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewProgressServer creates a server listening on port that subscribes to
// bus and broadcasts every event it publishes to connected clients.
// Subscription happens immediately so no event published after
// construction is missed, even before Start is called.
func NewProgressServer(logger *zap.Logger, bus *events.Bus, port int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:  logger,
		bus:     bus,
		addr:    fmt.Sprintf(":%d", port),
		router:  mux.NewRouter(),
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	s.sub = bus.Subscribe(s.onEvent)
	return s
}

// Handler returns the server's HTTP handler, for embedding in a test
// server or a larger mux without binding a listener via Start.
func (s *Server) Handler() http.Handler {
	return s.router
}

// WithMetrics mounts reg's Prometheus exposition at /metrics. Optional:
// a server with no registry attached serves no /metrics route.
func (s *Server) WithMetrics(reg *metrics.Registry) *Server {
	s.metrics = reg
	s.router.Handle("/metrics", reg.Handler()).Methods("GET")
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/events", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the HTTP server until Stop is called or it fails.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting progress API server", zap.String("addr", s.addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop unsubscribes from the bus, closes every client connection, and
// shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// onEvent is the bus Handler: it records the event for late joiners and
// fans it out to every connected client.
func (s *Server) onEvent(ev events.Event) error {
	s.mu.Lock()
	s.history = append(s.history, ev)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()

	s.broadcastEvent(ev)
	return nil
}

func (s *Server) broadcastEvent(ev events.Event) {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "event",
		Method:    string(ev.Type),
		Payload:   ev,
		Timestamp: time.Now().UnixMilli(),
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal progress event", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- msgBytes:
		default:
			s.logger.Warn("client send buffer full, dropping event", zap.String("client", client.ID))
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleGetHistory returns every event observed so far, for clients that
// prefer polling over a WebSocket connection.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snapshot := make([]events.Event, len(s.history))
	copy(snapshot, s.history)
	s.mu.RUnlock()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": snapshot,
		"count":  len(snapshot),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Subs: make(map[string]bool),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	history := make([]events.Event, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	s.logger.Info("progress client connected", zap.String("id", client.ID))

	go s.writePump(client)
	go s.readPump(client)

	for _, ev := range history {
		s.sendEvent(client, ev)
	}
}

func (s *Server) sendEvent(client *Client, ev events.Event) {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "event",
		Method:    string(ev.Type),
		Payload:   ev,
		Timestamp: time.Now().UnixMilli(),
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.Send <- msgBytes:
	default:
	}
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("progress client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(64 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			s.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}
		s.handleMessage(client, &msg)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles a request from a connected client. The progress
// stream is push-only; the only client-initiated methods are liveness
// checks and channel bookkeeping for a future filtered-subscription mode.
func (s *Server) handleMessage(client *Client, msg *Message) {
	response := &Message{
		ID:        msg.ID,
		Type:      "response",
		Method:    msg.Method,
		Timestamp: time.Now().UnixMilli(),
	}

	switch msg.Method {
	case "ping":
		response.Payload = map[string]string{"pong": "ok"}

	case "subscribe":
		payload, _ := msg.Payload.(map[string]interface{})
		channel, _ := payload["channel"].(string)
		client.Subs[channel] = true
		response.Payload = map[string]string{"subscribed": channel}

	case "unsubscribe":
		payload, _ := msg.Payload.(map[string]interface{})
		channel, _ := payload["channel"].(string)
		delete(client.Subs, channel)
		response.Payload = map[string]string{"unsubscribed": channel}

	default:
		response.Error = "unknown method"
	}

	responseBytes, err := json.Marshal(response)
	if err != nil {
		return
	}
	select {
	case client.Send <- responseBytes:
	default:
	}
}
