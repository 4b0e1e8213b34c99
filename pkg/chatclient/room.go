package chatclient

import (
	"context"
	"net/url"
	"strconv"

	"collab-relay/pkg/protocol"
	"collab-relay/pkg/reconcile"

	"github.com/google/uuid"
)

// HistoryLimit is how many recent messages a refresh loads.
const HistoryLimit = 100

// RoomView is an open room: its message list follows the server.
type RoomView struct {
	client *Client
	key    protocol.RoomKey
	list   *reconcile.MessageList
}

func (v *RoomView) Key() protocol.RoomKey { return v.key }

func (v *RoomView) Entries() []reconcile.Entry { return v.list.Entries() }

// Send shows content at once as a pending entry, then posts it. The
// server's event confirms the entry in place; a failed post removes it.
func (v *RoomView) Send(ctx context.Context, content string) (protocol.Event, error) {
	tempID := uuid.NewString()
	v.list.ApplyOptimistic(tempID, content)

	body := map[string]any{
		"roomKey":  v.key,
		"content":  content,
		"clientId": tempID,
	}
	var ev protocol.Event
	if err := v.client.doJSON(ctx, "POST", "/api/messages", body, &ev); err != nil {
		v.list.Fail(tempID)
		return protocol.Event{}, err
	}

	v.list.ApplyServerEvent(ev)
	return ev, nil
}

// Refresh replaces the list with the server's recent history. Concurrent
// refreshes of one room share a single fetch.
func (v *RoomView) Refresh(ctx context.Context) error {
	_, err, _ := v.client.refreshes.Do(v.key.String(), func() (any, error) {
		q := url.Values{}
		q.Set("room", v.key.String())
		q.Set("limit", strconv.Itoa(HistoryLimit))

		var events []protocol.Event
		if err := v.client.doJSON(ctx, "GET", "/api/messages?"+q.Encode(), nil, &events); err != nil {
			return nil, err
		}
		v.list.Reset(events)
		return nil, nil
	})
	return err
}

// Close stops applying events to the view before it returns, then tells
// the server to stop sending them.
func (v *RoomView) Close() error {
	v.client.dropView(v)
	v.client.conversations.Close(v.key)
	return v.client.write(protocol.Envelope{Type: protocol.MessageTypeLeaveRoom, RoomKey: v.key})
}
