package sse

import (
	"context"
	"encoding/json"
	"sync"

	"esp32-facecam/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Event names sent to browsers
const (
	EventStatus      = "status"
	EventRecognition = "recognition"
	EventSource      = "source"
	EventError       = "error"
)

// Message is one server-sent event
type Message struct {
	Event string
	Data  []byte
}

// Client is the outgoing queue of one connected browser
type Client chan Message

// Hub manages the connected clients and broadcasts messages to them
type Hub struct {
	// registered clients
	clients map[Client]bool

	// messages from the application
	broadcast chan Message

	register   chan Client
	unregister chan Client

	// closed when Run returns
	done chan struct{}

	mu sync.Mutex
}

// NewHub creates a hub; call Run to start dispatching
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
		done:       make(chan struct{}),
	}
}

// Run dispatches messages until ctx is cancelled; all clients are closed on return.
// It should run in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	log.Info("SSE hub started")
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client)
		}
		h.mu.Unlock()
		close(h.done)
		log.Info("SSE hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Debugf("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// slow consumer
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client. It returns false when the hub is no longer running.
func (h *Hub) Register(client Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes and closes a client
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a message for all clients without blocking
func (h *Hub) Broadcast(message Message) {
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// BroadcastJSON marshals v and broadcasts it as event
func (h *Hub) BroadcastJSON(event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Failed to marshal %s event for SSE: %v", event, err)
		return
	}
	h.Broadcast(Message{Event: event, Data: data})
}

// NotifyRecognition forwards a recognition event to browsers
func (h *Hub) NotifyRecognition(ev models.RecognitionEvent) {
	h.BroadcastJSON(EventRecognition, ev)
}

// NotifySource forwards a source state change to browsers
func (h *Hub) NotifySource(ev models.SourceEvent) {
	h.BroadcastJSON(EventSource, ev)
}

// NotifyError forwards the user-visible error to browsers
func (h *Hub) NotifyError(ev models.ErrorEvent) {
	h.BroadcastJSON(EventError, ev)
}

// NotifyStatus forwards a controller status snapshot to browsers
func (h *Hub) NotifyStatus(st models.Status) {
	h.BroadcastJSON(EventStatus, st)
}
