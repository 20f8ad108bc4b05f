// Package notify pushes change notices to a user's other clients.
//
// The server side is a WebSocket hub that keeps one client set per user
// and fans each notice out to that user's connections only. Notices carry
// no record content; receivers pull to pick up the change.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// MessageType defines the type of notice.
type MessageType string

const (
	// MessageTypeHello is sent once when a client connects.
	MessageTypeHello MessageType = "hello"

	// MessageTypeChanged indicates a project or todo was created, updated
	// or deleted by one of the user's clients.
	MessageTypeChanged MessageType = "changed"
)

// Message is the envelope of every notice.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChangedData describes one mutation.
type ChangedData struct {
	Kind      schema.Kind `json:"kind"`
	ID        string      `json:"id"`
	Op        schema.Op   `json:"op"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty"`
}

// Changed decodes the payload of a changed notice.
func (m Message) Changed() (*ChangedData, error) {
	var d ChangedData
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

type envelope struct {
	userID string
	msg    Message
}

// Hub manages WebSocket connections grouped by user.
type Hub struct {
	clients   map[string]map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	broadcast      chan envelope
	originPatterns []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds hub configuration.
type Config struct {
	// QueueSize bounds pending notices (default: 100).
	QueueSize int

	// OriginPatterns lists hosts allowed to connect from a browser.
	// Empty means same-origin only.
	OriginPatterns []string

	// Logger for hub activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		QueueSize: 100,
		Logger:    log.Default(),
	}
}

// NewHub creates a hub. Call Start before use and Stop when done.
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:        make(map[string]map[*websocket.Conn]struct{}),
		broadcast:      make(chan envelope, config.QueueSize),
		originPatterns: config.OriginPatterns,
		ctx:            ctx,
		cancel:         cancel,
		logger:         config.Logger,
	}
}

// Start runs the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes every connection and waits for the broadcast loop.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for userID, conns := range h.clients {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		}
		delete(h.clients, userID)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues msg for every connection of userID.
func (h *Hub) Broadcast(userID string, msg Message) {
	select {
	case h.broadcast <- envelope{userID: userID, msg: msg}:
	case <-h.ctx.Done():
	default:
		h.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// NotifyChange broadcasts a changed notice for one record.
func (h *Hub) NotifyChange(userID string, d ChangedData) {
	data, err := json.Marshal(d)
	if err != nil {
		h.logger.Printf("Failed to marshal change: %v", err)
		return
	}
	h.Broadcast(userID, Message{Type: MessageTypeChanged, Timestamp: time.Now(), Data: data})
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case env := <-h.broadcast:
			if env.msg.Timestamp.IsZero() {
				env.msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(env.msg)
			if err != nil {
				h.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients[env.userID]))
			for conn := range h.clients[env.userID] {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Printf("Failed to send to client: %v", err)
					h.removeClient(env.userID, conn)
				}
			}
		}
	}
}

// ServeWS upgrades the request and keeps the connection registered for
// userID until the client goes away. It blocks for the connection lifetime.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*websocket.Conn]struct{})
	}
	h.clients[userID][conn] = struct{}{}
	total := h.countLocked()
	h.clientsMu.Unlock()

	h.logger.Printf("Client connected (total: %d)", total)

	hello, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, hello)
	cancel()

	h.readLoop(userID, conn)
}

// readLoop keeps the connection alive until the client disconnects.
// Client messages are ignored.
func (h *Hub) readLoop(userID string, conn *websocket.Conn) {
	defer h.removeClient(userID, conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(userID string, conn *websocket.Conn) {
	h.clientsMu.Lock()
	conns := h.clients[userID]
	if _, ok := conns[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
	total := h.countLocked()
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Printf("Client disconnected (total: %d)", total)
}

// ClientCount returns the number of connected clients across all users.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}
