package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"collab-relay/internal/metrics"
	"collab-relay/internal/registry"
	"collab-relay/internal/rooms"
	"collab-relay/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   map[string][]protocol.Envelope
	gone     map[string]bool
	onSend   func(connID string)
	sendErrs map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames:   make(map[string][]protocol.Envelope),
		gone:     make(map[string]bool),
		sendErrs: make(map[string]error),
	}
}

func (f *fakeTransport) Send(connID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[connID] {
		return ErrConnectionGone
	}
	if err := f.sendErrs[connID]; err != nil {
		return err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	f.frames[connID] = append(f.frames[connID], env)
	if f.onSend != nil {
		f.onSend(connID)
	}
	return nil
}

func (f *fakeTransport) received(connID string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.frames[connID]...)
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingSink) Emit(_ context.Context, key string, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func newTestRelay(t *testing.T, opts ...Option) (*Relay, *rooms.Manager, *registry.Registry, *fakeTransport) {
	t.Helper()
	rm := rooms.NewManager()
	reg := registry.New()
	tr := newFakeTransport()
	return New(rm, reg, tr, opts...), rm, reg, tr
}

func messageEnvelope(id string, room protocol.RoomKey) protocol.Envelope {
	return protocol.Envelope{
		Type: protocol.MessageTypeNewMessage,
		Event: &protocol.Event{
			ID:      id,
			Kind:    protocol.EventMessageSent,
			RoomKey: room,
			Content: "msg " + id,
		},
	}
}

func TestRelay_PublishReachesExactlyRoomMembers(t *testing.T) {
	r, rm, _, tr := newTestRelay(t)
	room := protocol.TeamRoom("p1")
	other := protocol.TeamRoom("p2")

	rm.Join("c1", room)
	rm.Join("c2", room)
	rm.Join("c3", other)

	n := r.Publish(context.Background(), messageEnvelope("1", room), room)

	assert.Equal(t, 2, n)
	assert.Len(t, tr.received("c1"), 1)
	assert.Len(t, tr.received("c2"), 1)
	assert.Empty(t, tr.received("c3"))
}

func TestRelay_PublishUsesCallTimeMembership(t *testing.T) {
	r, rm, _, tr := newTestRelay(t)
	room := protocol.TeamRoom("p1")
	rm.Join("c1", room)

	// A member joining while the publish is in flight is not a target.
	tr.onSend = func(connID string) {
		if connID == "c1" {
			rm.Join("late", room)
		}
	}

	n := r.Publish(context.Background(), messageEnvelope("1", room), room)

	assert.Equal(t, 1, n)
	assert.Empty(t, tr.received("late"))
	assert.True(t, rm.IsMember("late", room))
}

func TestRelay_PublishToEmptyRoom(t *testing.T) {
	r, _, _, _ := newTestRelay(t)
	assert.Equal(t, 0, r.Publish(context.Background(), messageEnvelope("1", protocol.TeamRoom("none")), protocol.TeamRoom("none")))
}

func TestRelay_ConnectionInSeveralTargetRoomsReceivesOnce(t *testing.T) {
	r, rm, _, tr := newTestRelay(t)
	a := protocol.TeamRoom("p1")
	b := protocol.TeamRoom("p2")
	rm.Join("c1", a)
	rm.Join("c1", b)

	n := r.Publish(context.Background(), messageEnvelope("1", a), a, b)

	assert.Equal(t, 1, n)
	assert.Len(t, tr.received("c1"), 1)
}

func TestRelay_GoneConnectionIsDroppedSilently(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r, rm, _, tr := newTestRelay(t, WithMetrics(m))
	room := protocol.TeamRoom("p1")
	rm.Join("c1", room)
	rm.Join("c2", room)
	tr.gone["c1"] = true

	n := r.Publish(context.Background(), messageEnvelope("1", room), room)

	assert.Equal(t, 1, n)
	assert.Len(t, tr.received("c2"), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedDeliveries.WithLabelValues("gone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries))
}

func TestRelay_SameRoomOrderIsPreserved(t *testing.T) {
	r, rm, _, tr := newTestRelay(t)
	room := protocol.TeamRoom("p1")
	otherRoom := protocol.TeamRoom("p2")
	rm.Join("c1", room)
	rm.Join("c2", room)
	rm.Join("c2", otherRoom)

	for i := 0; i < 50; i++ {
		r.Publish(context.Background(), messageEnvelope(fmt.Sprint(i), room), room)
		r.Publish(context.Background(), messageEnvelope(fmt.Sprint("x", i), otherRoom), otherRoom)
	}

	for _, connID := range []string{"c1", "c2"} {
		var ids []string
		for _, env := range tr.received(connID) {
			if env.Event.RoomKey == room {
				ids = append(ids, env.Event.ID)
			}
		}
		require.Len(t, ids, 50, connID)
		for i, id := range ids {
			assert.Equal(t, fmt.Sprint(i), id, connID)
		}
	}
}

func TestRelay_PublishToUsersReachesEveryDevice(t *testing.T) {
	r, _, reg, tr := newTestRelay(t)
	reg.Register("c1", "alice")
	reg.Register("c2", "alice")
	reg.Register("c3", "bob")

	env := protocol.Envelope{
		Type:         protocol.MessageTypeConversationUpdate,
		Conversation: &protocol.ConversationUpdate{RoomKey: protocol.DirectRoom("alice", "bob"), EventID: "1"},
	}
	n := r.PublishToUsers(context.Background(), env, "alice")

	assert.Equal(t, 2, n)
	assert.Len(t, tr.received("c1"), 1)
	assert.Len(t, tr.received("c2"), 1)
	assert.Empty(t, tr.received("c3"))
}

func TestRelay_SinkReceivesDomainEventsOnly(t *testing.T) {
	sink := &recordingSink{}
	r, rm, _, _ := newTestRelay(t, WithSink(sink))
	room := protocol.TeamRoom("p1")
	rm.Join("c1", room)

	r.Publish(context.Background(), messageEnvelope("1", room), room)
	r.Publish(context.Background(), protocol.Envelope{Type: protocol.MessageTypeRoomJoined}, room)
	r.PublishToUsers(context.Background(), protocol.Envelope{
		Type:         protocol.MessageTypeTeamConversationUpdate,
		Conversation: &protocol.ConversationUpdate{RoomKey: room, UnreadDelta: 1},
	}, "alice", "bob")

	assert.Equal(t, []string{"team:p1"}, sink.keys)
}

func TestRelay_SendTo(t *testing.T) {
	r, _, _, tr := newTestRelay(t)

	err := r.SendTo(context.Background(), "c1", protocol.Envelope{Type: protocol.MessageTypeError, ClientID: "tmp-1", Error: "boom"})
	require.NoError(t, err)

	got := tr.received("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "tmp-1", got[0].ClientID)

	tr.gone["c2"] = true
	assert.ErrorIs(t, r.SendTo(context.Background(), "c2", protocol.Envelope{Type: protocol.MessageTypeError}), ErrConnectionGone)
}
