package bridge

import (
	"context"
	"sync"

	"github.com/goodtune/puzzlegate/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultSendBuffer is the default number of queued messages per viewer.
const DefaultSendBuffer = 16

// Handler processes viewer messages.
type Handler interface {
	// Handle processes one message and returns the replies for the sender.
	Handle(ctx context.Context, viewerID string, msg Message) []Message
	// ViewerGone is called once a viewer disconnects.
	ViewerGone(ctx context.Context, viewerID string)
}

// Client is one connected viewer.
type Client struct {
	ID   string
	Send chan Message
}

type unregistration struct {
	client *Client
	gone   chan bool
}

// Hub tracks connected viewers and delivers messages to them. Delivery never
// blocks: a viewer whose queue is full loses the message.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan unregistration
	done       chan struct{}
	bufferSize int
	logger     zerolog.Logger
	mu         sync.RWMutex
}

// NewHub creates a hub. Run must be started before clients register.
func NewHub(bufferSize int, logger zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}

	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan unregistration),
		done:       make(chan struct{}),
		bufferSize: bufferSize,
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run processes registrations until ctx is done, then disconnects every
// viewer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.ID]; ok {
				close(old.Send)
			}
			h.clients[client.ID] = client
			h.updateGaugeLocked()
			h.mu.Unlock()
			h.logger.Debug().Str("viewer", client.ID).Msg("Viewer connected")

		case req := <-h.unregister:
			client := req.client
			h.mu.Lock()
			current, ok := h.clients[client.ID]
			if ok && current == client {
				delete(h.clients, client.ID)
				close(client.Send)
				h.updateGaugeLocked()
			}
			h.mu.Unlock()
			req.gone <- !ok || current == client
			h.logger.Debug().Str("viewer", client.ID).Msg("Viewer disconnected")

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.updateGaugeLocked()
			h.mu.Unlock()
			return
		}
	}
}

// NewClient returns an unregistered client for viewerID.
func (h *Hub) NewClient(viewerID string) *Client {
	return &Client{ID: viewerID, Send: make(chan Message, h.bufferSize)}
}

// Register adds a client, replacing any earlier client with the same ID.
// It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send queue. It reports whether
// the viewer is now gone, which is false when a newer connection replaced it.
func (h *Hub) Unregister(client *Client) bool {
	req := unregistration{client: client, gone: make(chan bool, 1)}
	select {
	case h.unregister <- req:
		return <-req.gone
	case <-h.done:
		return true
	}
}

// Connected reports whether viewerID has a live connection.
func (h *Hub) Connected(viewerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[viewerID]
	return ok
}

// Send queues msg for one viewer. It reports whether the message was queued.
func (h *Hub) Send(viewerID string, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[viewerID]
	if !ok {
		return false
	}
	return h.enqueueLocked(client, msg)
}

// Broadcast queues msg for each listed viewer that is connected.
func (h *Hub) Broadcast(viewerIDs []string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range viewerIDs {
		if client, ok := h.clients[id]; ok {
			h.enqueueLocked(client, msg)
		}
	}
}

func (h *Hub) enqueueLocked(client *Client, msg Message) bool {
	select {
	case client.Send <- msg:
		return true
	default:
		metrics.MessagesDropped.Inc()
		h.logger.Warn().Str("viewer", client.ID).Str("kind", string(msg.Kind)).Msg("Viewer queue full, dropping message")
		return false
	}
}

func (h *Hub) updateGaugeLocked() {
	metrics.ViewersConnected.Set(float64(len(h.clients)))
}
