// Package websocket manages live client sessions and pushes reminder events
// to the sessions of the user they belong to.
package websocket

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type delivery struct {
	userID string
	// client, when set, restricts the delivery to one session.
	client *Client
	data   []byte
}

// Hub maintains the active WebSocket clients, grouped by user.
type Hub struct {
	// Registered clients by user ID
	clients map[string]map[*Client]bool

	// Outbound messages addressed to one user
	deliver chan delivery

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Guards clients for readers outside the run loop
	mu sync.RWMutex

	log zerolog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		deliver:    make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main event loop and returns when ctx is done.
// This should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			sessions := h.clients[client.userID]
			if sessions == nil {
				sessions = make(map[*Client]bool)
				h.clients[client.userID] = sessions
			}
			sessions[client] = true
			h.mu.Unlock()
			h.log.Debug().Str("user_id", client.userID).Int("sessions", len(sessions)).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.Debug().Str("user_id", client.userID).Msg("websocket client disconnected")

		case d := <-h.deliver:
			h.mu.Lock()
			for client := range h.clients[d.userID] {
				if d.client != nil && d.client != client {
					continue
				}
				select {
				case client.send <- d.data:
				default:
					// Client send buffer full, drop the session
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	sessions, ok := h.clients[client.userID]
	if !ok || !sessions[client] {
		return
	}
	delete(sessions, client)
	close(client.send)
	if len(sessions) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sessions := range h.clients {
		for client := range sessions {
			close(client.send)
		}
	}
	h.clients = make(map[string]map[*Client]bool)
}

// SendToUser queues message for every live session of userID. Reports false
// when the user has no session or the outbound buffer is full.
func (h *Hub) SendToUser(userID string, message []byte) bool {
	if !h.IsConnected(userID) {
		return false
	}
	select {
	case h.deliver <- delivery{userID: userID, data: message}:
		return true
	default:
		h.log.Warn().Str("user_id", userID).Msg("websocket delivery buffer full, dropping message")
		return false
	}
}

// Reply queues message for a single session. Sessions that have already
// gone away drop it.
func (h *Hub) Reply(client *Client, message []byte) bool {
	select {
	case h.deliver <- delivery{userID: client.userID, client: client, data: message}:
		return true
	default:
		return false
	}
}

// IsConnected reports whether the user has at least one live session.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Register adds a client to the hub. Once the hub has stopped, the client's
// send channel is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister removes a client from the hub. It returns immediately once the
// hub has stopped, since every session was closed on the way out.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected sessions across all users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.clients {
		n += len(sessions)
	}
	return n
}

// Client is one WebSocket session of a user.
type Client struct {
	hub    *Hub
	userID string
	send   chan []byte
}

// NewClient creates a new WebSocket client for userID.
func NewClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

// Send returns the send channel for the client.
func (c *Client) Send() chan []byte {
	return c.send
}

// UserID returns the user the session belongs to.
func (c *Client) UserID() string {
	return c.userID
}
