package feed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/secretgame/internal/model"
)

// Event is one message fanned out to every client
type Event struct {
	Name string
	Data []byte
}

// Hub fans out player snapshots to live feed clients. The latest snapshot
// is replayed to each client as it registers.
type Hub struct {
	clients map[*Client]bool
	latest  *Event
	mu      sync.RWMutex
	logger  *slog.Logger

	// Channels for managing clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		logger:     logger.With(slog.String("component", "feed")),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns once Close is called.
func (h *Hub) Run() {
	h.logger.Info("feed hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			latest := h.latest
			h.mu.Unlock()
			if latest != nil {
				client.send <- *latest
			}
			h.logger.Info("feed client registered",
				slog.String("player_id", string(client.playerID)),
				slog.String("transport", client.transport),
				slog.Int("total_clients", clientCount))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				clientCount := len(h.clients)
				h.mu.Unlock()
				h.logger.Info("feed client unregistered",
					slog.String("player_id", string(client.playerID)),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", clientCount))
			} else {
				h.mu.Unlock()
			}

		case event := <-h.broadcast:
			h.mu.Lock()
			h.latest = &event
			sentCount := 0
			droppedCount := 0
			for client := range h.clients {
				select {
				case client.send <- event:
					sentCount++
				default:
					droppedCount++
					h.logger.Warn("feed message dropped - client buffer full",
						slog.String("player_id", string(client.playerID)))
				}
			}
			h.mu.Unlock()
			if droppedCount > 0 {
				h.logger.Warn("feed broadcast partial failure",
					slog.Int("sent", sentCount),
					slog.Int("dropped", droppedCount))
			}

		case <-h.done:
			h.mu.Lock()
			clientCount := len(h.clients)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("feed hub stopped", slog.Int("disconnected_clients", clientCount))
			return
		}
	}
}

// Register adds a client to the hub. It reports false once the hub is closed.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends an event to all clients. Events sent after Close are
// discarded.
func (h *Hub) Broadcast(event Event) {
	select {
	case <-h.done:
		return
	case h.broadcast <- event:
	default:
		h.logger.Warn("feed broadcast dropped - hub buffer full",
			slog.String("event", event.Name))
	}
}

// Close shuts down the hub, closing every client's channel
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one connected feed consumer
type Client struct {
	playerID    model.PlayerID
	transport   string
	send        chan Event
	connectedAt time.Time
}

// NewClient creates a new feed client
func NewClient(playerID model.PlayerID, transport string) *Client {
	return &Client{
		playerID:    playerID,
		transport:   transport,
		send:        make(chan Event, sendBufferSize),
		connectedAt: time.Now(),
	}
}

// Events returns the client's event channel, closed when the client is
// unregistered or the hub stops
func (c *Client) Events() <-chan Event {
	return c.send
}
