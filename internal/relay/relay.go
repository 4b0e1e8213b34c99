// Package relay fans published envelopes out to the connections joined to
// the target rooms. Delivery is fire-and-forget: a connection that is gone
// or saturated simply misses the event and recovers through a full refetch.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"collab-relay/internal/metrics"
	"collab-relay/internal/registry"
	"collab-relay/internal/rooms"
	"collab-relay/pkg/logger"
	"collab-relay/pkg/protocol"
)

var (
	ErrConnectionGone = errors.New("connection gone")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Transport queues a frame on a single connection without blocking.
type Transport interface {
	Send(connID string, payload []byte) error
}

// Sink receives a copy of every domain event after fan-out.
type Sink interface {
	Emit(ctx context.Context, key string, value []byte) error
}

type Option func(*Relay)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithSink(s Sink) Option {
	return func(r *Relay) { r.sink = s }
}

type Relay struct {
	rooms     *rooms.Manager
	registry  *registry.Registry
	transport Transport
	metrics   *metrics.Metrics
	sink      Sink

	// publishMu makes each publish atomic with respect to the others, so a
	// connection's queue sees events in Publish call order.
	publishMu sync.Mutex
}

func New(rm *rooms.Manager, reg *registry.Registry, transport Transport, opts ...Option) *Relay {
	r := &Relay{
		rooms:     rm,
		registry:  reg,
		transport: transport,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish delivers env to every connection joined to any of keys at call
// time. A connection joined to several of the keys receives it once.
// It returns the number of connections the envelope was queued on.
func (r *Relay) Publish(ctx context.Context, env protocol.Envelope, keys ...protocol.RoomKey) int {
	var targets []string
	seen := make(map[string]struct{})
	for _, key := range keys {
		for _, connID := range r.rooms.MembersOf(key) {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			targets = append(targets, connID)
		}
	}
	return r.deliver(ctx, env, targets)
}

// PublishToUsers delivers env to every connection of each user, whatever
// rooms they have joined.
func (r *Relay) PublishToUsers(ctx context.Context, env protocol.Envelope, userIDs ...string) int {
	var targets []string
	for _, userID := range userIDs {
		targets = append(targets, r.registry.ConnectionsFor(userID)...)
	}
	return r.deliver(ctx, env, targets)
}

// SendTo queues env on one connection. Used for replies such as errors.
func (r *Relay) SendTo(ctx context.Context, connID string, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	return r.transport.Send(connID, data)
}

func (r *Relay) deliver(ctx context.Context, env protocol.Envelope, targets []string) int {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error("Failed to marshal %s envelope: %v", env.Type, err)
		return 0
	}
	if r.metrics != nil {
		r.metrics.EventsPublished.WithLabelValues(string(env.Type)).Inc()
	}

	delivered := 0
	r.publishMu.Lock()
	for _, connID := range targets {
		if err := r.transport.Send(connID, data); err != nil {
			r.dropped(connID, env.Type, err)
			continue
		}
		delivered++
	}
	r.publishMu.Unlock()

	if r.metrics != nil {
		r.metrics.Deliveries.Add(float64(delivered))
	}
	if r.sink != nil {
		if key := env.EventKey(); key != "" {
			if err := r.sink.Emit(ctx, key, data); err != nil {
				logger.Warn("Event stream emit failed for %s: %v", key, err)
			}
		}
	}
	return delivered
}

func (r *Relay) dropped(connID string, msgType protocol.MessageType, err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrConnectionGone):
		reason = "gone"
	case errors.Is(err, ErrSendBufferFull):
		reason = "buffer_full"
	}
	if r.metrics != nil {
		r.metrics.DroppedDeliveries.WithLabelValues(reason).Inc()
	}
	logger.WithFields(logger.Fields{
		"conn_id": connID,
		"type":    msgType,
		"reason":  reason,
	}).Debug("Delivery dropped")
}
