package websocket

import (
	"context"
	"sync"
	"time"

	"collab-relay/internal/config"
	"collab-relay/internal/metrics"
	"collab-relay/internal/registry"
	"collab-relay/internal/relay"
	"collab-relay/internal/rooms"
	"collab-relay/pkg/logger"
	"collab-relay/pkg/protocol"
)

// Hub owns every live client of the process. Register and Unregister are
// serialized through Run; Send may be called from any goroutine.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	registry *registry.Registry
	rooms    *rooms.Manager
	metrics  *metrics.Metrics
	cfg      config.WebSocketConfig
}

func NewHub(reg *registry.Registry, rm *rooms.Manager, m *metrics.Metrics, cfg config.WebSocketConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		registry:   reg,
		rooms:      rm,
		metrics:    m,
		cfg:        cfg,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
				h.forget(client)
			}
			h.mu.Unlock()
			logger.Info("Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.registry.Register(client.id, client.userID)
			if h.metrics != nil {
				h.metrics.Connections.Inc()
			}
			close(client.registered)
			logger.Info("User %s connected (%s)", client.userID, client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[client.id]
			if ok && current == client {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			if ok && current == client {
				h.forget(client)
				logger.Info("User %s disconnected (%s)", client.userID, client.id)
			} else if !ok {
				h.rooms.LeaveAll(client.id)
			}
		}
	}
}

func (h *Hub) forget(client *Client) {
	h.rooms.LeaveAll(client.id)
	h.registry.Unregister(client.id)
	if h.metrics != nil {
		h.metrics.Connections.Dec()
	}
}

// join adds a live client to a room. Holding the read lock keeps an
// unregister from landing between the liveness check and the join.
func (h *Hub) join(client *Client, key protocol.RoomKey) (joined, live bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[client.id] != client {
		return false, false
	}
	return h.rooms.Join(client.id, key), true
}

// Done is closed once Run has returned and every client is released.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register blocks until the hub has recorded the client. It returns false
// once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
	case <-h.done:
		return false
	}
	<-client.registered
	return true
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Send queues payload on a client without blocking. A client whose buffer
// is full is disconnected; it rejoins and refetches after reconnecting.
func (h *Hub) Send(connID string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connID]
	if !ok {
		return relay.ErrConnectionGone
	}
	select {
	case client.send <- payload:
		return nil
	default:
	}

	if client.evicted.CompareAndSwap(false, true) {
		if h.metrics != nil {
			h.metrics.SlowConsumerClosed.Inc()
		}
		logger.Warn("Disconnecting slow client %s of user %s", client.id, client.userID)
		go h.Unregister(client)
	}
	return relay.ErrSendBufferFull
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var _ relay.Transport = (*Hub)(nil)
